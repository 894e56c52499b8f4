package engine

import "fmt"

// ObjClass selects the redundancy and striping of an object.
type ObjClass uint16

const (
	ClassUnknown   ObjClass = 0
	ClassTinyRW    ObjClass = 1  // one group, no replication
	ClassSmallRW   ObjClass = 2  // up to four groups, no replication
	ClassLargeRW   ObjClass = 3  // one group per target, no replication
	ClassRepl2RW   ObjClass = 4  // one group, two replicas
	ClassRepl3RW   ObjClass = 5  // one group, three replicas
	ClassReplMaxRW ObjClass = 13 // one group replicated to every target
)

// DefaultClass is used when callers do not name a class.
const DefaultClass = ClassReplMaxRW

// classAttr describes the shape of a class. Zero values mean "all targets".
type classAttr struct {
	name     string
	groups   int
	replicas int
}

var classTable = map[ObjClass]classAttr{
	ClassTinyRW:    {name: "tiny_rw", groups: 1, replicas: 1},
	ClassSmallRW:   {name: "small_rw", groups: 4, replicas: 1},
	ClassLargeRW:   {name: "large_rw", groups: 0, replicas: 1},
	ClassRepl2RW:   {name: "repl_2_rw", groups: 1, replicas: 2},
	ClassRepl3RW:   {name: "repl_3_rw", groups: 1, replicas: 3},
	ClassReplMaxRW: {name: "repl_max_rw", groups: 1, replicas: 0},
}

// Known reports whether the class is in the class table.
func (c ObjClass) Known() bool {
	_, ok := classTable[c]
	return ok
}

func (c ObjClass) String() string {
	if a, ok := classTable[c]; ok {
		return a.name
	}
	return fmt.Sprintf("class(%d)", uint16(c))
}

// ParseObjClass resolves a class by its name or numeric id.
func ParseObjClass(s string) (ObjClass, error) {
	for c, a := range classTable {
		if a.name == s {
			return c, nil
		}
	}
	var id uint16
	if _, err := fmt.Sscanf(s, "%d", &id); err == nil && ObjClass(id).Known() {
		return ObjClass(id), nil
	}
	return ClassUnknown, NewError(RCNoType, "unknown object class %q", s)
}

// Resolve returns the number of redundancy groups and replicas per group for a pool
// with the given number of live targets.
func (c ObjClass) Resolve(targets int) (groups, replicas int, err error) {
	a, ok := classTable[c]
	if !ok {
		return 0, 0, NewError(RCNoType, "unknown object class %d", uint16(c))
	}
	if targets <= 0 {
		return 0, 0, NewError(RCNoSpace, "no live targets")
	}
	replicas = a.replicas
	if replicas == 0 {
		replicas = targets
	}
	if replicas > targets {
		return 0, 0, NewError(RCNoSpace, "class %s needs %d targets, pool has %d", a.name, replicas, targets)
	}
	groups = a.groups
	if groups == 0 || groups*replicas > targets {
		groups = targets / replicas
	}
	return groups, replicas, nil
}
