package trace

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteReport writes a table of steps to w, one row per rewrite.
func WriteReport(w io.Writer, run Run, steps []Step) error {
	fmt.Fprintf(w, "run %d  program %s  started %s\n",
		run.ID, ShortDigest(run.Program), run.Started.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tOFFSET\tHEAD\tREGION\tREPLACEMENT\tTEXT")
	for _, s := range steps {
		head := s.Head
		if s.Name != "" {
			head += " " + s.Name
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			s.Step, s.Offset, head, clip(s.Region), clip(s.Replacement), ShortDigest(s.Snapshot))
	}
	return tw.Flush()
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 32 {
		return string(r[:32]) + "..."
	}
	if s == "" {
		return `""`
	}
	return s
}
