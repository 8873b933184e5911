/*
Copyright 2024 Flotilla Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package types

import (
	"fmt"

	"github.com/gravitational/trace"
)

// Operation is the kind of action an update reports progress for.
type Operation string

const (
	OperationNone             Operation = "None"
	OperationCreateServer     Operation = "CreateServer"
	OperationUpdateServer     Operation = "UpdateServer"
	OperationPruneImages      Operation = "PruneImages"
	OperationCreateDeployment Operation = "CreateDeployment"
	OperationDeployContainer  Operation = "DeployContainer"
	OperationStartContainer   Operation = "StartContainer"
	OperationStopContainer    Operation = "StopContainer"
	OperationRemoveContainer  Operation = "RemoveContainer"
	OperationCreateBuild      Operation = "CreateBuild"
	OperationRunBuild         Operation = "RunBuild"
	OperationCloneRepo        Operation = "CloneRepo"
	OperationPullRepo         Operation = "PullRepo"
	OperationRunProcedure     Operation = "RunProcedure"
)

// UpdateStatus tracks whether the owning operation is still running.
type UpdateStatus string

const (
	// UpdateStatusInProgress marks an operation that is still running.
	UpdateStatusInProgress UpdateStatus = "InProgress"
	// UpdateStatusComplete marks a finished operation.
	UpdateStatusComplete UpdateStatus = "Complete"
)

// Version is a semantic build version attached to build/deploy updates.
type Version struct {
	Major int `json:"major" bson:"major"`
	Minor int `json:"minor" bson:"minor"`
	Patch int `json:"patch" bson:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Log is one stage of an operation's output.
type Log struct {
	Stage   string `json:"stage" bson:"stage"`
	Command string `json:"command" bson:"command"`
	Stdout  string `json:"stdout" bson:"stdout"`
	Stderr  string `json:"stderr" bson:"stderr"`
	Success bool   `json:"success" bson:"success"`
	StartTS int64  `json:"start_ts" bson:"start_ts"`
	EndTS   int64  `json:"end_ts" bson:"end_ts"`
}

// Update is the persisted progress record of a single operation run.
// The store assigns ID on first insert; the id is immutable afterwards
// and every later mutation fully replaces the record under that id.
// Exactly one logical owner (the operation that created the update)
// performs all mutations.
type Update struct {
	// ID is assigned by the store on insert. The storage layer maps it
	// to the document's object id; it is not encoded inline.
	ID string `json:"id" bson:"-"`
	// StartTS is the operation start time in unix milliseconds.
	StartTS int64 `json:"start_ts" bson:"start_ts"`
	// Operation is the action being reported on.
	Operation Operation `json:"operation" bson:"operation"`
	// Operator is the id of the user running the operation.
	Operator string `json:"operator" bson:"operator"`
	// Target is the resource the operation acts on.
	Target ResourceTarget `json:"target" bson:"target"`
	// Success is flipped to false when any stage fails.
	Success bool `json:"success" bson:"success"`
	// Status tracks operation progress.
	Status UpdateStatus `json:"status" bson:"status"`
	// Version is set on build/deploy operations.
	Version Version `json:"version" bson:"version"`
	// Logs holds per-stage command output.
	Logs []Log `json:"logs" bson:"logs"`
}

// Check validates the update before persistence.
func (u *Update) Check() error {
	if u.Operation == "" || u.Operation == OperationNone {
		return trace.BadParameter("missing operation")
	}
	if u.Operator == "" {
		return trace.BadParameter("missing operator")
	}
	if err := u.Target.Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// UpdateListItem is the display projection of an Update: the operator id
// resolved to a username, the logs dropped. It is the only shape ever
// broadcast or streamed and is never stored independently.
type UpdateListItem struct {
	ID        string         `json:"id"`
	Operation Operation      `json:"operation"`
	StartTS   int64          `json:"start_ts"`
	Success   bool           `json:"success"`
	Operator  string         `json:"operator"`
	Target    ResourceTarget `json:"target"`
	Status    UpdateStatus   `json:"status"`
	Version   Version        `json:"version"`
	Username  string         `json:"username"`
}
