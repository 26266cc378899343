package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	pkgerrors "github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ahrav/go-acdat"
	"github.com/ahrav/go-acdat/index"
)

func headerCommand() *cli.Command {
	return &cli.Command{
		Name:      "header",
		Usage:     "Print the database header",
		ArgsUsage: "<dat>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<dat>"); err != nil {
				return err
			}
			a, _, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()

			h := a.Header()
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "FileType\t%#x\n", h.FileType)
			fmt.Fprintf(w, "BlockSize\t%d\n", h.BlockSize)
			fmt.Fprintf(w, "FileSize\t%d\n", h.FileSize)
			fmt.Fprintf(w, "DataSet\t%d\n", h.DataSet)
			fmt.Fprintf(w, "DataSubset\t%d\n", h.DataSubset)
			fmt.Fprintf(w, "FreeHead\t%#x\n", h.FreeHead)
			fmt.Fprintf(w, "FreeTail\t%#x\n", h.FreeTail)
			fmt.Fprintf(w, "FreeCount\t%d\n", h.FreeCount)
			fmt.Fprintf(w, "BTree\t%#x\n", h.BTree)
			fmt.Fprintf(w, "NewLRU\t%#x\n", h.NewLRU)
			fmt.Fprintf(w, "OldLRU\t%#x\n", h.OldLRU)
			fmt.Fprintf(w, "UseLRU\t%t\n", h.UseLRU)
			fmt.Fprintf(w, "MasterMapID\t%#x\n", h.MasterMapID)
			fmt.Fprintf(w, "EnginePackVersion\t%d\n", h.EnginePackVersion)
			fmt.Fprintf(w, "GamePackVersion\t%d\n", h.GamePackVersion)
			fmt.Fprintf(w, "VersionMajor\t%x\n", h.VersionMajor)
			fmt.Fprintf(w, "VersionMinor\t%d\n", h.VersionMinor)
			return w.Flush()
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List catalog records in catalog order",
		ArgsUsage: "<dat>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "Only list records of this type (texture, iteration, unknown)"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<dat>"); err != nil {
				return err
			}
			var (
				filter acdat.FileType
				only   = c.IsSet("type")
			)
			if only {
				t, err := acdat.ParseFileType(c.String("type"))
				if err != nil {
					return err
				}
				filter = t
			}

			a, _, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()

			cat, err := a.Catalog(c.Context)
			if err != nil {
				return pkgerrors.Wrap(err, "read catalog")
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tID\tTYPE\tOFFSET\tSIZE\tITERATION")
			it := cat.Iter()
			for {
				i, rec, ok, _ := it.Next()
				if !ok {
					break
				}
				if only && rec.Type() != filter {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%#x\t%d\t%d\n",
					i, rec.ObjectID, rec.Type(), rec.FileOffset, rec.FileSize, rec.Iteration)
			}
			return w.Flush()
		},
	}
}

func iconsCommand() *cli.Command {
	return &cli.Command{
		Name:      "icons",
		Usage:     "Decode every texture and list the icons",
		ArgsUsage: "<dat>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Usage: "Decoding goroutines (0 uses every CPU)", EnvVars: []string{"ACDAT_WORKERS"}},
			&cli.StringFlag{Name: "profile-addr", Usage: "Serve pprof and metrics on this address during the scan"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<dat>"); err != nil {
				return err
			}
			a, cfg, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []acdat.ScannerOption{acdat.WithWorkers(cfg.Workers)}
			if cfg.ProfileAddr != "" {
				opts = append(opts, acdat.WithDebug(acdat.DebugConfig{Addr: cfg.ProfileAddr}))
			}

			var icons []acdat.ScannedAsset
			_, err = acdat.NewScanner(a, opts...).Scan(c.Context, func(s acdat.ScannedAsset) error {
				if s.Payload.Subtype() == acdat.SubtypeIcon {
					icons = append(icons, s)
				}
				return nil
			})
			var scanErr *acdat.ScanError
			switch {
			case errors.As(err, &scanErr):
				for _, id := range scanErr.IDs() {
					loggerFrom(c).WithField("object_id", id.String()).WithError(scanErr.Skipped[id]).Warn("skipped texture")
				}
			case err != nil:
				return pkgerrors.Wrap(err, "scan textures")
			}

			sort.Slice(icons, func(i, j int) bool { return icons[i].Index < icons[j].Index })
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tID\tFORM\tFORMAT\tBYTES\tFINGERPRINT")
			for _, s := range icons {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%016x\n",
					s.Index, s.Record.ObjectID, s.Payload.Form, s.Payload.Format, s.Payload.Length, s.Payload.Fingerprint())
			}
			if scanErr != nil {
				fmt.Fprintf(w, "skipped\t%d\n", len(scanErr.Skipped))
			}
			return w.Flush()
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Write one file's contents to disk",
		ArgsUsage: "<dat> <object-id> <out>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "pixels", Usage: "Write the decoded texture pixels instead of the raw file"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 3, "<dat> <object-id> <out>"); err != nil {
				return err
			}
			id, err := acdat.ParseObjectID(c.Args().Get(1))
			if err != nil {
				return err
			}
			a, _, err := openArchive(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Lookup(c.Context, id)
			if err != nil {
				return pkgerrors.Wrapf(err, "find %s", id)
			}

			var data []byte
			if c.Bool("pixels") {
				p, err := a.Asset(rec)
				if err != nil {
					return pkgerrors.Wrapf(err, "decode %s", id)
				}
				data = p.Bytes
			} else {
				data, err = a.ReadFile(rec)
				if err != nil {
					return pkgerrors.Wrapf(err, "read %s", id)
				}
			}

			out := c.Args().Get(2)
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return pkgerrors.Wrap(err, "write output")
			}
			loggerFrom(c).WithFields(map[string]interface{}{
				"object_id": id.String(),
				"bytes":     len(data),
				"out":       out,
			}).Info("dumped file")
			return nil
		},
	}
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Build a sqlite index of the catalog",
		ArgsUsage: "<dat> <sqlite-path>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2, "<dat> <sqlite-path>"); err != nil {
				return err
			}
			a, _, err := openArchive(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			db, err := index.Open(c.Args().Get(1))
			if err != nil {
				return err
			}
			defer db.Close()

			st, err := index.Build(c.Context, db, a, loggerFrom(c))
			if err != nil {
				return pkgerrors.Wrap(err, "build index")
			}
			fmt.Fprintf(c.App.Writer, "files=%d textures=%d icons=%d undecodable=%d\n",
				st.Files, st.Textures, st.Icons, st.Undecodable)
			return nil
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare the catalogs of two archives",
		ArgsUsage: "<old.dat> <new.dat>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "unified", Usage: "Print a unified diff of the catalog listings"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2, "<old.dat> <new.dat>"); err != nil {
				return err
			}
			oldPath, newPath := c.Args().Get(0), c.Args().Get(1)

			oldA, _, err := openArchive(c, oldPath)
			if err != nil {
				return err
			}
			defer oldA.Close()
			newA, _, err := openArchive(c, newPath)
			if err != nil {
				return err
			}
			defer newA.Close()

			oldCat, err := oldA.Catalog(c.Context)
			if err != nil {
				return pkgerrors.Wrapf(err, "read catalog of %s", oldPath)
			}
			newCat, err := newA.Catalog(c.Context)
			if err != nil {
				return pkgerrors.Wrapf(err, "read catalog of %s", newPath)
			}

			if c.Bool("unified") {
				fmt.Fprint(c.App.Writer, acdat.UnifiedListing(oldPath, newPath, oldCat, newCat))
				return nil
			}

			d := acdat.DiffCatalogs(oldCat, newCat)
			for _, r := range d.Removed {
				fmt.Fprintf(c.App.Writer, "- %s\n", acdat.FormatRecord(r))
			}
			for _, r := range d.Added {
				fmt.Fprintf(c.App.Writer, "+ %s\n", acdat.FormatRecord(r))
			}
			for _, ch := range d.Changed {
				fmt.Fprintf(c.App.Writer, "~ %s\n  %s\n", acdat.FormatRecord(ch.Old), acdat.FormatRecord(ch.New))
			}
			fmt.Fprintf(c.App.Writer, "added=%d removed=%d changed=%d\n", len(d.Added), len(d.Removed), len(d.Changed))
			return nil
		},
	}
}
