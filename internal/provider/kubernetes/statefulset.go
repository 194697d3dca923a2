// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"

	"github.com/juju/charmruntime/core/status"
	"github.com/juju/charmruntime/internal/provider/kubernetes/constants"
	"github.com/juju/charmruntime/internal/workload"
)

// ApplyWorkloadConfig updates the named container of the application
// StatefulSet to match config. The container is added if the pod template
// does not have it yet.
func (p *Provider) ApplyWorkloadConfig(ctx context.Context, container string, config workload.Config) error {
	if err := config.Validate(); err != nil {
		return errors.Trace(err)
	}
	api := p.client.AppsV1().StatefulSets(p.namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		sts, err := api.Get(ctx, p.application, metav1.GetOptions{})
		if err != nil {
			return err
		}
		updateStatefulSet(sts, container, config)
		_, err = api.Update(ctx, sts, metav1.UpdateOptions{FieldManager: constants.FieldManager})
		return err
	})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, fmt.Sprintf("statefulset %q", p.application))
	} else if err != nil {
		return errors.Annotatef(err, "updating container %q of statefulset %q", container, p.application)
	}
	logger.Infof("applied configuration of container %q", container)
	return nil
}

func updateStatefulSet(sts *appsv1.StatefulSet, name string, config workload.Config) {
	spec := &sts.Spec.Template.Spec
	index := -1
	for i, c := range spec.Containers {
		if c.Name == name {
			index = i
			break
		}
	}
	if index < 0 {
		spec.Containers = append(spec.Containers, corev1.Container{Name: name})
		index = len(spec.Containers) - 1
	}
	c := &spec.Containers[index]
	c.Image = config.Image
	c.Command = strings.Fields(config.Command)
	c.Env = containerEnv(config.Environment)
	c.Ports = containerPorts(config.Ports)

	volumes, mounts := resourceVolumes(name, config.Mounts)
	c.VolumeMounts = mounts
	spec.Volumes = mergeVolumes(spec.Volumes, name, volumes)

	annotations := sts.Spec.Template.Annotations
	if annotations == nil {
		annotations = make(map[string]string)
	}
	if config.Service == "" {
		delete(annotations, constants.AnnotationServicePrefix+name)
	} else {
		annotations[constants.AnnotationServicePrefix+name] = config.Service
	}
	sts.Spec.Template.Annotations = annotations
}

func containerEnv(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	result := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		result = append(result, corev1.EnvVar{Name: k, Value: v})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func containerPorts(ports []workload.Port) []corev1.ContainerPort {
	if len(ports) == 0 {
		return nil
	}
	result := make([]corev1.ContainerPort, len(ports))
	for i, p := range ports {
		protocol := corev1.ProtocolTCP
		if p.Protocol != "" {
			protocol = corev1.Protocol(p.Protocol)
		}
		result[i] = corev1.ContainerPort{
			ContainerPort: int32(p.ContainerPort),
			Protocol:      protocol,
		}
	}
	return result
}

// resourceVolumes mounts file resources into the container from the host
// paths they were resolved to. Volumes are named after the container so
// that each container owns its own.
func resourceVolumes(container string, mounts map[string]string) ([]corev1.Volume, []corev1.VolumeMount) {
	if len(mounts) == 0 {
		return nil, nil
	}
	paths := make([]string, 0, len(mounts))
	for path := range mounts {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	volumes := make([]corev1.Volume, len(paths))
	volumeMounts := make([]corev1.VolumeMount, len(paths))
	for i, path := range paths {
		name := fmt.Sprintf("%s-resource-%d", container, i)
		hostPathType := corev1.HostPathFile
		volumes[i] = corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{
					Path: mounts[path],
					Type: &hostPathType,
				},
			},
		}
		volumeMounts[i] = corev1.VolumeMount{
			Name:      name,
			MountPath: path,
			ReadOnly:  true,
		}
	}
	return volumes, volumeMounts
}

// mergeVolumes replaces the resource volumes of the container, keeping
// every other volume.
func mergeVolumes(existing []corev1.Volume, container string, volumes []corev1.Volume) []corev1.Volume {
	prefix := container + "-resource-"
	var result []corev1.Volume
	for _, v := range existing {
		if !strings.HasPrefix(v.Name, prefix) {
			result = append(result, v)
		}
	}
	return append(result, volumes...)
}

// SetStatus records the workload status as annotations on the application
// StatefulSet.
func (p *Provider) SetStatus(ctx context.Context, info status.StatusInfo) error {
	since := ""
	if info.Since != nil {
		since = info.Since.UTC().Format(time.RFC3339)
	}
	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				constants.AnnotationStatus:          info.Status.String(),
				constants.AnnotationStatusMessage:   info.Message,
				constants.AnnotationStatusSince:     since,
				constants.AnnotationWorkloadVersion: info.WorkloadVersion,
			},
		},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = p.client.AppsV1().StatefulSets(p.namespace).Patch(
		ctx, p.application, types.MergePatchType, data, metav1.PatchOptions{FieldManager: constants.FieldManager},
	)
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, fmt.Sprintf("statefulset %q", p.application))
	}
	return errors.Annotatef(err, "setting status of statefulset %q", p.application)
}
