package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/store"
)

// Archive sections. Each top-level directory in a backup maps to one place
// on disk.
const (
	sectionStore  = "store"
	sectionMemory = "memory"
	sectionNATS   = "nats"
)

var archiveSections = []string{sectionStore, sectionMemory, sectionNATS}

var (
	backupFile       string
	restoreFile      string
	restoreOverwrite bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive the run store, memory and NATS data as .tar.zst",
	Long: `Archive the run store, the per-model memory databases and the NATS data
directory into one zstd-compressed tar file. The run store is copied with a
consistent snapshot, so the gateway may keep running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd.OutOrStdout(), cfg, backupFile)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup made with warroom backup",
	Long: `Restore a backup made with warroom backup. Stop the gateway first.
Existing data is left alone unless --overwrite is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd.OutOrStdout(), cfg, restoreFile, restoreOverwrite)
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupFile, "file", "f", "", "Output archive (.tar.zst)")
	_ = backupCmd.MarkFlagRequired("file")
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "Backup archive (.tar.zst)")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "Replace existing data")
	_ = restoreCmd.MarkFlagRequired("file")
}

func runBackup(out io.Writer, c *config.Config, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	files, err := backupStore(tw, c.Store)
	if err != nil {
		return fmt.Errorf("backup store: %w", err)
	}
	for _, s := range []struct{ name, dir string }{
		{sectionMemory, c.Memory.Dir},
		{sectionNATS, c.NATS.DataDir},
	} {
		slog.Info("backing up directory", "section", s.name, "dir", s.dir)
		n, err := addDir(tw, s.name, s.dir)
		if err != nil {
			return fmt.Errorf("backup %s: %w", s.name, err)
		}
		files += n
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	size := int64(0)
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	fmt.Fprintf(out, "Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

// backupStore snapshots the run database with VACUUM INTO and archives the
// snapshot, so a live gateway's WAL never leaves the copy half-written.
func backupStore(tw *tar.Writer, cfg config.StoreConfig) (int, error) {
	if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("run store not found, skipping", "path", cfg.Path)
		return 0, nil
	}

	db, err := store.New(cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tmpDir, err := os.MkdirTemp("", "warroom-backup-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, filepath.Base(cfg.Path))
	if _, err := db.DB().Exec(`VACUUM INTO ?`, snapshot); err != nil {
		return 0, fmt.Errorf("snapshot: %w", err)
	}
	slog.Info("backing up run store", "path", cfg.Path)
	if err := addFile(tw, path.Join(sectionStore, filepath.Base(cfg.Path)), snapshot); err != nil {
		return 0, err
	}
	return 1, nil
}

// addDir archives every regular file under dir with the section as prefix.
// A missing dir adds nothing.
func addDir(tw *tar.Writer, section, dir string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	files := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := path.Join(section, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		case d.Type().IsRegular():
			files++
			return addFile(tw, name, p)
		default:
			slog.Debug("skipping non-regular file", "path", p)
			return nil
		}
	})
	return files, err
}

func addFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

// restoreTargets maps archive sections to where they unpack.
func restoreTargets(c *config.Config) map[string]string {
	return map[string]string{
		sectionStore:  filepath.Dir(c.Store.Path),
		sectionMemory: c.Memory.Dir,
		sectionNATS:   c.NATS.DataDir,
	}
}

func runRestore(out io.Writer, c *config.Config, inputPath string, overwrite bool) error {
	// Pre-scan: collect sections from archive
	sections, err := scanArchiveSections(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	if len(sections) == 0 {
		fmt.Fprintln(out, "Archive contains no data.")
		return nil
	}

	targets := restoreTargets(c)
	if !overwrite {
		for _, s := range sections {
			if occupied(c, s) {
				return fmt.Errorf("%s data already exists in %s, add --overwrite to replace files", s, targets[s])
			}
		}
	}
	if slices.Contains(sections, sectionStore) {
		// stale WAL files would be replayed over the restored database
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(c.Store.Path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		section, rel := splitSectionPath(hdr.Name)
		if section == "" {
			continue
		}
		target, err := safeJoin(targets[section], rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("restore %s: %w", hdr.Name, err)
			}
			files++
		}
	}

	fmt.Fprintf(out, "Restore complete: %d files (%s)\n", files, strings.Join(sections, ", "))
	return nil
}

func extractFile(r io.Reader, target string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// occupied reports whether restoring section would replace existing data.
func occupied(c *config.Config, section string) bool {
	if section == sectionStore {
		_, err := os.Stat(c.Store.Path)
		return err == nil
	}
	entries, err := os.ReadDir(restoreTargets(c)[section])
	return err == nil && len(entries) > 0
}

// safeJoin resolves an archive path under root, rejecting entries that
// would escape it.
func safeJoin(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", rel, root)
	}
	return target, nil
}

// scanArchiveSections reads tar headers to collect the sections present,
// without extracting file data.
func scanArchiveSections(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		section, _ := splitSectionPath(hdr.Name)
		if section != "" && !seen[section] {
			seen[section] = true
			names = append(names, section)
		}
	}
	return names, nil
}

// splitSectionPath splits "memory/openai_gpt-4o-mini/memory.db" into
// ("memory", "openai_gpt-4o-mini/memory.db"). Unknown sections return an
// empty section.
func splitSectionPath(name string) (section, relPath string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	section, relPath, _ = strings.Cut(name, "/")
	if !slices.Contains(archiveSections, section) {
		return "", ""
	}
	if relPath == "" {
		relPath = "./"
	}
	return section, relPath
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
