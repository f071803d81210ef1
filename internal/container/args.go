package container

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/jakenelson/devrun/internal/launcher"
)

// ToArgs renders a struct of `flag:"--name"` tagged fields as command line
// arguments. Zero values are skipped, bools render as the bare flag, slices
// repeat the flag once per element.
func ToArgs(s any) []string {
	var ret []string
	sv := reflect.ValueOf(s)
	st := sv.Type()
	for i := range st.NumField() {
		field := st.Field(i)
		flagName, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fv := sv.Field(i)
		if fv.IsZero() {
			continue
		}

		switch field.Type.Kind() {
		case reflect.Bool:
			ret = append(ret, flagName)
		case reflect.Slice:
			for j := range fv.Len() {
				ret = append(ret, flagName, fmt.Sprintf("%v", fv.Index(j).Interface()))
			}
		default:
			ret = append(ret, flagName, fmt.Sprintf("%v", fv.Interface()))
		}
	}
	return ret
}

// RunFlagsFor translates spec into runtime run flags
func RunFlagsFor(spec launcher.LaunchSpec) RunFlags {
	flags := RunFlags{
		InteractiveTTY: spec.InteractiveTTY,
		Remove:         spec.AutoRemove,
		Network:        spec.NetworkMode,
		IPC:            spec.IPCMode,
		GroupAdd:       spec.GroupAdd,
		CapAdd:         spec.CapAdd,
		SecurityOpt:    spec.SecurityOpts,
		Privileged:     spec.Privileged,
		ShmSize:        spec.ShmSize,
		Name:           spec.Name,
	}
	for _, d := range spec.Devices {
		flags.Devices = append(flags.Devices, d.String())
	}
	for _, b := range spec.Binds {
		flags.Volumes = append(flags.Volumes, b.String())
	}
	return flags
}

// RunArgs returns the runtime arguments (without the executable) that start spec
func RunArgs(spec launcher.LaunchSpec) []string {
	args := []string{"run"}
	args = append(args, ToArgs(RunFlagsFor(spec))...)
	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

// FormatCommand joins argv for display, quoting arguments a shell would split
func FormatCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\$`") {
			a = strconv.Quote(a)
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
