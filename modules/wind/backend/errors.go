// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"

	"github.com/windvcs/wind/modules/oid"
)

// ErrMismatchedObjectType is returned when a caller asks the store to
// decode an object as a type other than the one its magic bytes declare
// (e.g. Manifest(oid) resolving to a Changeset).
type ErrMismatchedObjectType struct {
	OID  oid.OID
	Want string
}

func (e *ErrMismatchedObjectType) Error() string {
	return fmt.Sprintf("backend: object %s is not a %s", e.OID, e.Want)
}

func NewErrMismatchedObjectType(o oid.OID, want string) error {
	return &ErrMismatchedObjectType{OID: o, Want: want}
}

func IsErrMismatchedObjectType(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrMismatchedObjectType)
	return ok
}
