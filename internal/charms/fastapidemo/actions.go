// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fastapidemo

import (
	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/juju/charmruntime/internal/worker/reconciler"
)

// GetDBInfoAction reports the database connection details.
const GetDBInfoAction = "get-db-info"

var getDBInfoParams = schema.StrictFieldMap(
	schema.Fields{
		"show-password": schema.Bool(),
	},
	schema.Defaults{
		"show-password": false,
	},
)

// RunAction runs the named action against the snapshot and returns its
// results.
func (c *Charm) RunAction(name string, params map[string]interface{}, snapshot reconciler.Snapshot) (map[string]interface{}, error) {
	if name != GetDBInfoAction {
		return nil, errors.NotFoundf("action %q", name)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	coerced, err := getDBInfoParams.Coerce(params, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "action parameters")
	}
	showPassword := coerced.(map[string]interface{})["show-password"].(bool)

	db, err := DatabaseInfo(snapshot)
	if errors.Is(err, errors.NotFound) {
		return map[string]interface{}{"result": "No database connected"}, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	results := map[string]interface{}{
		"db-host": db.Host,
		"db-port": db.Port,
	}
	if showPassword {
		results["db-username"] = db.Username
		results["db-password"] = db.Password
	}
	return results, nil
}
