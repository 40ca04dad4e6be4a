// Command excavate starts the journal-excavation turn service.
package main

import (
	"github.com/protolith/excavate/cmd"
	"github.com/protolith/excavate/internal/observability"
)

func main() {
	defer observability.Sync()
	cmd.Execute()
}
