//go:build cgo && testu01

package testu01

// #include <stdint.h>
import "C"

// externNext is the source behind the live extern generator. It is only set
// and read while the backend mutex is held.
var externNext func() uint32

//export u01GoBits
func u01GoBits() C.uint {
	if externNext == nil {
		return 0
	}
	return C.uint(externNext())
}
