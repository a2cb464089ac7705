package embedded

import (
	_ "embed"
)

//go:embed icdi-flasher.example.toml
var exampleConfig []byte

// ExampleConfigName is the file name `config init` writes by default.
const ExampleConfigName = "icdi-flasher.toml"

// ExampleConfig returns the commented example configuration file.
func ExampleConfig() []byte {
	return exampleConfig
}
