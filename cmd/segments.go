package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/clog"
	"github.com/tsubamedb/tsubame/transaction/committs"
	"github.com/tsubamedb/tsubame/transaction/multixact"
)

var (
	segmentsCmd = &cobra.Command{
		Use:   "segments",
		Short: "List the on-disk segment files of each transaction log",
		RunE:  segmentsRun,
	}

	segmentsLog = ""
)

func initSegmentsFlags(fs *pflag.FlagSet) {
	fs.StringVar(&segmentsLog, "log", segmentsLog,
		"only this `log`: clog, commit-ts, multixact-offsets or multixact-members")
}

func init() {
	initSegmentsFlags(segmentsCmd.Flags())
	tsubameCmd.AddCommand(segmentsCmd)
}

type logDir struct {
	name      string
	dir       string
	longNames bool
}

func segmentsRun(cmd *cobra.Command, args []string) error {
	logs := []logDir{
		{name: "clog", dir: clog.SubDir},
		{name: "commit-ts", dir: committs.SubDir},
		{name: "multixact-offsets", dir: multixact.OffsetsSubDir, longNames: true},
		{name: "multixact-members", dir: multixact.MembersSubDir},
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"log", "file", "segment", "first page", "bytes"})

	for _, l := range logs {
		if segmentsLog != "" && segmentsLog != l.name {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(cfg.DataDir, l.dir))
		if err != nil {
			// a log that was never extended has no directory yet
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("tsubame: %s", err)
		}
		for _, e := range entries {
			segno, ok := slru.ParseSegmentFileName(e.Name(), l.longNames)
			if !ok {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				return fmt.Errorf("tsubame: %s", err)
			}
			tw.Append([]string{
				l.name,
				e.Name(),
				strconv.FormatUint(uint64(segno), 10),
				strconv.FormatUint(uint64(slru.FirstPageOfSegment(segno)), 10),
				strconv.FormatInt(fi.Size(), 10),
			})
		}
	}
	tw.Render()
	return nil
}
