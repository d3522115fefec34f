package cache

import (
	"fmt"
	"strings"

	"github.com/dougsko/rigsession/pkg/rigerr"
)

// VFO identifies an independently tunable channel of the radio
type VFO int

const (
	VFONone VFO = iota
	VFOCurr
	VFOA
	VFOB
	VFOC
	VFOSubA
	VFOSubB
	VFOSubC
	VFOMem
	VFOAll
)

// Aliases used by radios that name their receivers main/sub
const (
	VFOMain = VFOA
	VFOSub  = VFOB
)

var vfoNames = map[VFO]string{
	VFONone: "None",
	VFOCurr: "currVFO",
	VFOA:    "VFOA",
	VFOB:    "VFOB",
	VFOC:    "VFOC",
	VFOSubA: "SubA",
	VFOSubB: "SubB",
	VFOSubC: "SubC",
	VFOMem:  "MEM",
	VFOAll:  "ALL",
}

// String returns the rigctl style VFO name
func (v VFO) String() string {
	if name, ok := vfoNames[v]; ok {
		return name
	}
	return fmt.Sprintf("VFO(%d)", int(v))
}

// ParseVFO accepts rigctl names ("VFOA", "currVFO", "Main", "Sub") and short forms ("A", "B")
func ParseVFO(name string) (VFO, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "CURR", "CURRVFO", "VFO":
		return VFOCurr, nil
	case "A", "VFOA", "MAIN", "MAINA":
		return VFOA, nil
	case "B", "VFOB", "SUB", "MAINB":
		return VFOB, nil
	case "C", "VFOC", "MAINC":
		return VFOC, nil
	case "SUBA":
		return VFOSubA, nil
	case "SUBB":
		return VFOSubB, nil
	case "SUBC":
		return VFOSubC, nil
	case "MEM":
		return VFOMem, nil
	case "ALL":
		return VFOAll, nil
	case "NONE":
		return VFONone, nil
	default:
		return VFONone, fmt.Errorf("unknown vfo %q: %w", name, rigerr.ErrInvalidArgument)
	}
}

// concrete reports whether v names a single cache slot
func (v VFO) concrete() bool {
	return v >= VFOA && v <= VFOMem
}

// Class is a cached value class
type Class int

const (
	ClassFreq Class = iota
	ClassMode
	ClassWidth
	ClassAll
)

const numClasses = int(ClassAll)

// String returns string representation of the class
func (c Class) String() string {
	switch c {
	case ClassFreq:
		return "FREQ"
	case ClassMode:
		return "MODE"
	case ClassWidth:
		return "WIDTH"
	case ClassAll:
		return "ALL"
	default:
		return fmt.Sprintf("CLASS(%d)", int(c))
	}
}

// ParseClass parses a class selector
func ParseClass(name string) (Class, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "FREQ", "FREQUENCY":
		return ClassFreq, nil
	case "MODE":
		return ClassMode, nil
	case "WIDTH", "PASSBAND":
		return ClassWidth, nil
	case "ALL":
		return ClassAll, nil
	default:
		return ClassAll, fmt.Errorf("unknown cache class %q: %w", name, rigerr.ErrInvalidArgument)
	}
}
