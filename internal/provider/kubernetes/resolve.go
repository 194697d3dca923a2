// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"
	// Import shas that are used for docker image validation.
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/distribution/reference"
	"github.com/juju/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	coreresource "github.com/juju/charmruntime/core/resource"
	"github.com/juju/charmruntime/internal/provider/kubernetes/constants"
	"github.com/juju/charmruntime/internal/resource"
)

// ResolveResource is part of the resource.Resolver interface.
func (p *Provider) ResolveResource(ctx context.Context, req resource.ResolveRequest) (string, error) {
	switch req.Resource.Type {
	case coreresource.TypeOCIImage:
		return p.resolveImage(ctx, req)
	case coreresource.TypeFile:
		return p.resolveFile(req)
	}
	return "", errors.NotSupportedf("resource type %q", req.Resource.Type)
}

// resourceSecretName returns the name of the secret that may override the
// image of the named resource.
func (p *Provider) resourceSecretName(name string) string {
	return fmt.Sprintf("%s-%s-secret", p.application, name)
}

// resolveImage parses the image reference into its normalized form. The
// resource secret is consulted only when the operator has not attached a
// reference of their own.
func (p *Provider) resolveImage(ctx context.Context, req resource.ResolveRequest) (string, error) {
	path := req.Reference
	if path == req.Resource.UpstreamSource {
		override, err := p.secretImagePath(ctx, req.Resource.Name)
		if err != nil {
			return "", errors.Trace(err)
		}
		if override != "" {
			path = override
		}
	}
	if path == "" {
		return "", errors.NotValidf("empty image path for resource %q", req.Resource.Name)
	}
	named, err := reference.ParseNormalizedNamed(path)
	if err != nil {
		return "", errors.NewNotValid(err, fmt.Sprintf("docker image path %q", path))
	}
	location := reference.TagNameOnly(named).String()
	logger.Debugf("resource %q resolved to image %q", req.Resource.Name, location)
	return location, nil
}

func (p *Provider) secretImagePath(ctx context.Context, name string) (string, error) {
	secret, err := p.client.CoreV1().Secrets(p.namespace).Get(ctx, p.resourceSecretName(name), metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return "", nil
	} else if err != nil {
		return "", errors.Annotatef(classifyAPIError(err), "reading secret for resource %q", name)
	}
	return string(secret.Data[constants.RegistryPathKey]), nil
}

func (p *Provider) resolveFile(req resource.ResolveRequest) (string, error) {
	if p.resourceDir == "" {
		return "", errors.NotSupportedf("file resources without a resource directory")
	}
	filename := req.Resource.Filename
	if filename == "" {
		filename = req.Resource.Name
	}
	path := filepath.Join(p.resourceDir, req.Resource.Name, filename)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", errors.NotFoundf("file resource %q at %q", req.Resource.Name, path)
	} else if err != nil {
		return "", errors.Trace(err)
	}
	if info.IsDir() {
		return "", errors.NotValidf("file resource %q at %q is a directory", req.Resource.Name, path)
	}
	return path, nil
}
