// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package constants

const (
	// Domain is the TLD used for charm runtime labels and annotations.
	Domain = "charmruntime.juju.is"

	// FieldManager is the field manager recorded on every object the
	// runtime writes.
	FieldManager = "charmruntime"

	// LabelApplication labels objects with the application they belong to.
	LabelApplication = "app.kubernetes.io/name"

	// LabelManagedBy marks objects created by the runtime.
	LabelManagedBy = "app.kubernetes.io/managed-by"

	// LabelEndpoint labels relation data config maps with the local
	// endpoint of the relation.
	LabelEndpoint = Domain + "/endpoint"

	// AnnotationStatus and friends hold the pushed workload status on the
	// application StatefulSet.
	AnnotationStatus        = Domain + "/status"
	AnnotationStatusMessage = Domain + "/status-message"
	AnnotationStatusSince   = Domain + "/status-since"

	// AnnotationWorkloadVersion holds the version the workload reports.
	AnnotationWorkloadVersion = Domain + "/workload-version"

	// AnnotationServicePrefix is prefixed to a container name to record the
	// service its command runs as on the pod template.
	AnnotationServicePrefix = Domain + "/service."

	// RegistryPathKey is the key of the image reference in a resource
	// secret.
	RegistryPathKey = "registrypath"
)
