// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fastapidemo

import (
	"net"
	"strconv"
	"strings"

	"github.com/juju/errors"

	corerelation "github.com/juju/charmruntime/core/relation"
	"github.com/juju/charmruntime/internal/worker/reconciler"
)

// Remote settings published by the PostgreSQL provider.
const (
	endpointsKey = "endpoints"
	usernameKey  = "username"
	passwordKey  = "password"
)

// Database holds the connection details the workload needs.
type Database struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Environment returns the environment variables the demo server reads its
// database connection from. A zero Database yields no variables.
func (d Database) Environment() map[string]string {
	if d == (Database{}) {
		return nil
	}
	return map[string]string{
		"DEMO_SERVER_DB_HOST":     d.Host,
		"DEMO_SERVER_DB_PORT":     d.Port,
		"DEMO_SERVER_DB_USER":     d.Username,
		"DEMO_SERVER_DB_PASSWORD": d.Password,
	}
}

// DatabaseInfo returns the connection details published on the joined
// database relation. It returns a NotFound error until the provider has
// published its endpoints.
func DatabaseInfo(snapshot reconciler.Snapshot) (Database, error) {
	var (
		found  bool
		result Database
	)
	for _, inst := range snapshot.Instances(DatabaseRelation, corerelation.Joined) {
		endpoints := inst.Remote[endpointsKey]
		if endpoints == "" {
			continue
		}
		host, port, err := parseEndpoint(endpoints)
		if err != nil {
			return Database{}, errors.Annotatef(err, "relation %d", inst.ID)
		}
		db := Database{
			Host:     host,
			Port:     port,
			Username: inst.Remote[usernameKey],
			Password: inst.Remote[passwordKey],
		}
		if found && db != result {
			return Database{}, errors.NotValidf("conflicting database settings from %q", inst.RemoteUnit)
		}
		found, result = true, db
	}
	if !found {
		return Database{}, errors.NotFoundf("database endpoints")
	}
	return result, nil
}

// parseEndpoint returns the host and port of the first of a comma separated
// list of host:port endpoints.
func parseEndpoint(endpoints string) (string, string, error) {
	first := strings.TrimSpace(strings.Split(endpoints, ",")[0])
	host, port, err := net.SplitHostPort(first)
	if err != nil {
		return "", "", errors.NotValidf("database endpoint %q", first)
	}
	if host == "" {
		return "", "", errors.NotValidf("database endpoint %q without host", first)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return "", "", errors.NotValidf("database port %q", port)
	}
	return host, port, nil
}
