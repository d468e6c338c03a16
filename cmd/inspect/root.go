package inspect

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/varstore/lib/codec"
	"github.com/ValentinKolb/varstore/lib/frame"
	"github.com/spf13/cobra"
)

var (
	// InspectCmd represents the inspect command
	InspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Inspect a record file",
		Long: `Inspect a record file (.var or .var.bak) and print its frame header,
compression flag, payload size, schema version and checksum verdict.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
)

// runInspect validates one frame file and prints what it found
func runInspect(_ *cobra.Command, args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}

	printField := func(name, format string, fieldArgs ...interface{}) {
		fmt.Printf("%-12s%s\n", name+":", fmt.Sprintf(format, fieldArgs...))
	}

	printField("file", "%s", path)
	printField("size", "%d bytes", len(data))

	// header first, so a bad magic is reported before the checksum
	compressed, err := frame.IsCompressed(data)
	if err != nil {
		printField("header", "INVALID (%v)", err)
		return fmt.Errorf("%s is not a valid record file", path)
	}
	printField("header", "ok")
	printField("compressed", "%t", compressed)

	payload, err := frame.Decode(data)
	if err != nil {
		printField("checksum", "FAILED (%v)", err)
		return fmt.Errorf("%s failed validation", path)
	}
	printField("checksum", "ok")
	printField("payload", "%d bytes", len(payload))

	// the payload starts with the schema version of the stored record
	r := codec.NewReader(payload)
	version := r.ReadVarInt()
	if err := r.Err(); err != nil {
		printField("version", "unreadable (%v)", err)
		return fmt.Errorf("%s carries no decodable record", path)
	}
	printField("version", "%d", version)

	return nil
}
