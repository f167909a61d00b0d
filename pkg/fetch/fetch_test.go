package fetch

import (
	"bytes"
	"context"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/tonyhutter/scr/pkg/container"
	"github.com/tonyhutter/scr/pkg/fabric"
	"github.com/tonyhutter/scr/pkg/filemap"
	"github.com/tonyhutter/scr/pkg/scrlog"
	"github.com/tonyhutter/scr/pkg/summary"
)

func writeSrcFile(t *testing.T, dir, name string, content []byte) uint32 {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return crc32.ChecksumIEEE(content)
}

func TestRunRankNativeFetch(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := t.TempDir()
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	content := bytes.Repeat([]byte{0x7A}, 1024)
	crc := writeSrcFile(t, srcDir, "rank_0.dat", content)

	plan := summary.Plan{
		Files: []summary.FileRecord{
			{Filename: "rank_0.dat", Size: 1024, CRC: crc, HaveCRC: true, Complete: true, Path: srcDir, HavePath: true},
		},
	}

	result, err := RunRank(plan, cacheDir, 1, 0, 4, 1<<16, true, fmStore, nil)
	if err != nil {
		t.Fatalf("RunRank: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, failed files: %v", result.FailedFiles)
	}

	got, err := os.ReadFile(filepath.Join(cacheDir, "rank_0.dat"))
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("fetched bytes do not match source")
	}

	rec, err := fmStore.Get(1, 0)
	if err != nil {
		t.Fatalf("filemap Get: %v", err)
	}
	meta, ok := rec.Files[filepath.Join(cacheDir, "rank_0.dat")]
	if !ok || !meta.Complete {
		t.Fatalf("file map entry missing or incomplete: %+v", rec)
	}
	if rec.ExpectedFiles != 1 {
		t.Fatalf("expected_files = %d, want 1", rec.ExpectedFiles)
	}
}

func TestRunRankLogsTransferOnSuccessOnly(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := t.TempDir()
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	good := bytes.Repeat([]byte{0x33}, 32)
	writeSrcFile(t, srcDir, "good.dat", good)

	plan := summary.Plan{
		Files: []summary.FileRecord{
			{Filename: "good.dat", Size: 32, CRC: crc32.ChecksumIEEE(good), HaveCRC: true, Complete: true, Path: srcDir, HavePath: true},
			{Filename: "missing.dat", Size: 32, Complete: true}, // neither container nor path: fails
		},
	}

	var buf bytes.Buffer
	logger := scrlog.New(&buf)
	result, err := RunRank(plan, cacheDir, 5, 0, 1, 1<<16, true, fmStore, logger)
	if err != nil {
		t.Fatalf("RunRank: %v", err)
	}
	if result.Success {
		t.Fatal("expected overall failure due to missing.dat")
	}

	out := buf.String()
	if !strings.Contains(out, "FETCH TRANSFER") || !strings.Contains(out, "good.dat") {
		t.Fatalf("expected a transfer record for good.dat, got:\n%s", out)
	}
	if strings.Contains(out, "missing.dat") {
		t.Fatalf("missing.dat should not produce a transfer record, got:\n%s", out)
	}
}

func TestRunRankCRCMismatchFailsOnlyThatFile(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := t.TempDir()
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	good := bytes.Repeat([]byte{0x11}, 64)
	writeSrcFile(t, srcDir, "good.dat", good)
	bad := bytes.Repeat([]byte{0x22}, 64)
	writeSrcFile(t, srcDir, "bad.dat", bad)

	plan := summary.Plan{
		Files: []summary.FileRecord{
			{Filename: "good.dat", Size: 64, CRC: crc32.ChecksumIEEE(good), HaveCRC: true, Complete: true, Path: srcDir, HavePath: true},
			{Filename: "bad.dat", Size: 64, CRC: 0xdeadbeef, HaveCRC: true, Complete: true, Path: srcDir, HavePath: true},
		},
	}

	result, err := RunRank(plan, cacheDir, 2, 0, 1, 1<<16, true, fmStore, nil)
	if err != nil {
		t.Fatalf("RunRank: %v", err)
	}
	if result.Success {
		t.Fatal("expected overall failure due to bad.dat crc mismatch")
	}
	if len(result.FailedFiles) != 1 || result.FailedFiles[0] != "bad.dat" {
		t.Fatalf("failed files = %v, want [bad.dat]", result.FailedFiles)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "good.dat")); err != nil {
		t.Fatal("good.dat should still have been fetched")
	}
}

func TestRunRankMissingPathAndContainerFailsThatFileOnly(t *testing.T) {
	cacheDir := t.TempDir()
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	srcDir := t.TempDir()
	content := []byte("hello")
	writeSrcFile(t, srcDir, "ok.dat", content)

	plan := summary.Plan{
		Files: []summary.FileRecord{
			{Filename: "orphan.dat", Size: 10, Complete: true},
			{Filename: "ok.dat", Size: uint64(len(content)), CRC: crc32.ChecksumIEEE(content), HaveCRC: true, Complete: true, Path: srcDir, HavePath: true},
		},
	}
	result, err := RunRank(plan, cacheDir, 3, 0, 1, 1<<16, true, fmStore, nil)
	if err != nil {
		t.Fatalf("RunRank: %v", err)
	}
	if result.Success {
		t.Fatal("expected overall failure")
	}
	if len(result.FailedFiles) != 1 || result.FailedFiles[0] != "orphan.dat" {
		t.Fatalf("failed files = %v", result.FailedFiles)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "ok.dat")); err != nil {
		t.Fatal("ok.dat should still have been fetched")
	}
}

func TestRunRankContainerSegments(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	packA := bytes.Repeat([]byte{0x01}, 1500)
	packB := bytes.Repeat([]byte{0x02}, 2596)
	pack := append(append([]byte{}, packA...), packB...)
	if err := os.WriteFile(filepath.Join(dir, "pack.bin"), pack, 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	containers := map[string]container.Container{
		"pack0": {Name: filepath.Join(dir, "pack.bin"), Size: int64(len(pack))},
	}
	plan := summary.Plan{
		Containers: containers,
		Files: []summary.FileRecord{
			{Filename: "a", Size: 1500, Complete: true, Segments: []container.Segment{{Index: 0, Length: 1500, ContainerID: "pack0", Offset: 0}}},
		},
	}
	result, err := RunRank(plan, cacheDir, 4, 1, 2, 1<<16, true, fmStore, nil)
	if err != nil {
		t.Fatalf("RunRank: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, failed: %v", result.FailedFiles)
	}
	got, err := os.ReadFile(filepath.Join(cacheDir, "a"))
	if err != nil {
		t.Fatalf("read reconstructed file: %v", err)
	}
	if !bytes.Equal(got, packA) {
		t.Fatal("reconstructed bytes do not match container range")
	}
}

// runFlowAcrossWorld runs RunFlowControlled on every rank of world
// concurrently and returns each rank's result/error.
func runFlowAcrossWorld(world *fabric.World, n, w int, plans []summary.Plan, cacheDirs []string, datasetID int64, fm *filemap.Store) ([]bool, []error) {
	results := make([]bool, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ok, err := RunFlowControlled(context.Background(), world.Rank(r), w, plans[r], cacheDirs[r], datasetID, 1<<16, true, fm, nil)
			results[r] = ok
			errs[r] = err
		}(r)
	}
	wg.Wait()
	return results, errs
}

func TestRunFlowControlledAllSucceed(t *testing.T) {
	const n = 4
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	srcDir := t.TempDir()
	plans := make([]summary.Plan, n)
	cacheDirs := make([]string, n)
	for r := 0; r < n; r++ {
		content := bytes.Repeat([]byte{byte(r + 1)}, 1024)
		name := filepath.Join(srcDir)
		_ = name
		fname := "rank.dat"
		crc := writeSrcFileUnique(t, srcDir, r, fname, content)
		plans[r] = summary.Plan{Files: []summary.FileRecord{
			{Filename: fname, Size: 1024, CRC: crc, HaveCRC: true, Complete: true, Path: filepath.Join(srcDir, itoaFlow(r)), HavePath: true},
		}}
		cacheDirs[r] = t.TempDir()
	}

	world := fabric.NewWorld(n)
	results, errs := runFlowAcrossWorld(world, n, 2, plans, cacheDirs, 10, fmStore)
	for r := 0; r < n; r++ {
		if errs[r] != nil {
			t.Fatalf("rank %d: %v", r, errs[r])
		}
		if !results[r] {
			t.Fatalf("rank %d: expected overall success", r)
		}
	}
}

func writeSrcFileUnique(t *testing.T, base string, rank int, name string, content []byte) uint32 {
	t.Helper()
	dir := filepath.Join(base, itoaFlow(rank))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return writeSrcFile(t, dir, name, content)
}

func itoaFlow(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestRunFlowControlledOneRankFails(t *testing.T) {
	const n = 4
	fmStore, err := filemap.Open(filepath.Join(t.TempDir(), "fm.ldb"))
	if err != nil {
		t.Fatalf("filemap.Open: %v", err)
	}
	defer fmStore.Close()

	srcDir := t.TempDir()
	plans := make([]summary.Plan, n)
	cacheDirs := make([]string, n)
	for r := 0; r < n; r++ {
		cacheDirs[r] = t.TempDir()
		if r == 2 {
			// Rank 2's file references neither CONTAINER nor PATH, so
			// its single fetch fails and poisons the aggregate.
			plans[r] = summary.Plan{Files: []summary.FileRecord{
				{Filename: "orphan.dat", Size: 10, Complete: true},
			}}
			continue
		}
		content := bytes.Repeat([]byte{byte(r + 1)}, 256)
		fname := "rank.dat"
		crc := writeSrcFileUnique(t, srcDir, r, fname, content)
		plans[r] = summary.Plan{Files: []summary.FileRecord{
			{Filename: fname, Size: 256, CRC: crc, HaveCRC: true, Complete: true, Path: filepath.Join(srcDir, itoaFlow(r)), HavePath: true},
		}}
	}

	world := fabric.NewWorld(n)
	results, errs := runFlowAcrossWorld(world, n, 2, plans, cacheDirs, 11, fmStore)
	for r := 0; r < n; r++ {
		if errs[r] != nil {
			t.Fatalf("rank %d: %v", r, errs[r])
		}
		if results[r] {
			t.Fatalf("rank %d: expected overall failure due to rank 2", r)
		}
	}
}
