package utils

// Job is one requested transfer as given on the command line or in a batch
// file. OutputPath may be empty, in which case a name is inferred.
type Job struct {
	Source      string
	OutputPath  string
	Connections int
}

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}
