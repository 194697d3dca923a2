// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"

	"github.com/juju/charmruntime/internal/provider/kubernetes/constants"
)

// RelationConfigMapName returns the name of the config map holding the local
// data of the relation.
func (p *Provider) RelationConfigMapName(id int) string {
	return fmt.Sprintf("%s-relation-%d", p.application, id)
}

// PublishRelationData writes the local settings of the relation to its
// config map, creating it if needed. The config map data is replaced as a
// whole.
func (p *Provider) PublishRelationData(ctx context.Context, id int, endpoint string, settings map[string]string) error {
	api := p.client.CoreV1().ConfigMaps(p.namespace)
	name := p.RelationConfigMapName(id)
	labels := map[string]string{
		constants.LabelApplication: p.application,
		constants.LabelManagedBy:   constants.FieldManager,
		constants.LabelEndpoint:    endpoint,
	}
	data := make(map[string]string, len(settings))
	for k, v := range settings {
		data[k] = v
	}

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		cm, err := api.Get(ctx, name, metav1.GetOptions{})
		if k8serrors.IsNotFound(err) {
			_, err = api.Create(ctx, &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{
					Name:      name,
					Namespace: p.namespace,
					Labels:    labels,
				},
				Data: data,
			}, metav1.CreateOptions{FieldManager: constants.FieldManager})
			return err
		} else if err != nil {
			return err
		}
		if cm.Labels == nil {
			cm.Labels = make(map[string]string)
		}
		for k, v := range labels {
			cm.Labels[k] = v
		}
		cm.Data = data
		_, err = api.Update(ctx, cm, metav1.UpdateOptions{FieldManager: constants.FieldManager})
		return err
	})
	if err != nil {
		return errors.Annotatef(classifyAPIError(err), "publishing relation data to config map %q", name)
	}
	logger.Debugf("published %d keys for relation %d (%s)", len(data), id, endpoint)
	return nil
}
