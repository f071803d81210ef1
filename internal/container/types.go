package container

// RunFlags are the options of the runtime's "run" command. Fields render in
// declaration order; see ToArgs for the tag format.
type RunFlags struct {
	InteractiveTTY bool     `flag:"-it"`
	Remove         bool     `flag:"--rm"`
	Devices        []string `flag:"--device"`
	Network        string   `flag:"--network"`
	IPC            string   `flag:"--ipc"`
	GroupAdd       []string `flag:"--group-add"`
	CapAdd         []string `flag:"--cap-add"`
	SecurityOpt    []string `flag:"--security-opt"`
	Privileged     bool     `flag:"--privileged"`
	Volumes        []string `flag:"-v"`
	ShmSize        string   `flag:"--shm-size"`
	Name           string   `flag:"--name"`
}
