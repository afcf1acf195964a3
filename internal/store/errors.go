package store

import "errors"

// ErrDeviceNotProvisioned is returned by UpsertOnLogin when
// REQUIRE_PROVISIONED_DEVICE is enabled and the identity has no existing
// row. §9 SUPPLEMENTED FEATURES: the literal spec text describes
// insert-if-absent-or-update, which remains the default; this sentinel
// exists for deployments that want the original's stricter behavior
// without guessing which one the core should silently assume.
var ErrDeviceNotProvisioned = errors.New("store: device not provisioned")

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("store: not found")
