// Package testu01 binds the TestU01 library as a u01.Backend.
//
// The binding is only compiled with cgo and the testu01 build tag, against
// headers and static libraries under third_party/TestU01:
//
//	go build -tags testu01 ./...
//
// Without the tag New returns a backend whose every call fails with
// u01.ErrUnavailable.
package testu01

// Name is the backend name used in configuration.
const Name = "testu01"

const buildHint = "build TestU01 into third_party/TestU01 (include/ and lib/) and rebuild with cgo enabled and -tags testu01"
