package summary

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tonyhutter/scr/pkg/container"
	"github.com/tonyhutter/scr/pkg/fabric"
)

func runOnAllRanks(world *fabric.World, n int, fn func(f *fabric.InProcess) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(world.Rank(r))
		}(r)
	}
	wg.Wait()
	return errs
}

func TestLoadNativeFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(6)
	b.SetDataset(Dataset{DatasetID: 1, CheckpointID: 1, HasCheckpointID: true, Name: "ckpt.1"})
	for r := 0; r < 4; r++ {
		b.AddFile(r, "rank_"+itoa(r)+".dat", FileRecord{Size: 1024, CRC: 0xdeadbeef, HaveCRC: true})
	}
	if err := WriteTo(filepath.Join(dir, DocFileName), b.Build()); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	world := fabric.NewWorld(4)
	plans := make([]Plan, 4)
	errs := runOnAllRanks(world, 4, func(f *fabric.InProcess) error {
		p, err := Load(context.Background(), f, dir)
		plans[f.Rank()] = p
		return err
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Load: %v", r, err)
		}
	}
	for r := 0; r < 4; r++ {
		if len(plans[r].Files) != 1 {
			t.Fatalf("rank %d: got %d files, want 1", r, len(plans[r].Files))
		}
		fr := plans[r].Files[0]
		if fr.Filename != "rank_"+itoa(r)+".dat" {
			t.Fatalf("rank %d got file %q", r, fr.Filename)
		}
		if !fr.HavePath || fr.Path != dir {
			t.Fatalf("rank %d: native-mode PATH not injected: %+v", r, fr)
		}
		if plans[r].Dataset.CheckpointID != 1 {
			t.Fatalf("rank %d: checkpoint id = %d, want 1", r, plans[r].Dataset.CheckpointID)
		}
	}
}

func TestLoadMissingCheckpointIDFails(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(6)
	b.SetDataset(Dataset{DatasetID: 1})
	if err := WriteTo(filepath.Join(dir, DocFileName), b.Build()); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	world := fabric.NewWorld(2)
	errs := runOnAllRanks(world, 2, func(f *fabric.InProcess) error {
		_, err := Load(context.Background(), f, dir)
		return err
	})
	for r, err := range errs {
		if err == nil {
			t.Fatalf("rank %d: want error for missing checkpoint id", r)
		}
	}
}

func TestLoadUnreadableDirectoryFailsAllRanks(t *testing.T) {
	world := fabric.NewWorld(3)
	errs := runOnAllRanks(world, 3, func(f *fabric.InProcess) error {
		_, err := Load(context.Background(), f, "/does/not/exist/at/all")
		return err
	})
	for r, err := range errs {
		if err == nil {
			t.Fatalf("rank %d: want error for unreadable directory", r)
		}
	}
}

func TestLoadContainerMode(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(6)
	b.SetDataset(Dataset{DatasetID: 2, CheckpointID: 2, HasCheckpointID: true})
	b.AddContainer("pack0", container.Container{Name: filepath.Join(dir, "pack.bin"), Size: 4096})
	b.AddFile(0, "a", FileRecord{Size: 1500, Segments: []container.Segment{{Index: 0, Length: 1500, ContainerID: "pack0", Offset: 0}}})
	b.AddFile(1, "b", FileRecord{Size: 2596, Segments: []container.Segment{{Index: 0, Length: 2596, ContainerID: "pack0", Offset: 1500}}})
	if err := WriteTo(filepath.Join(dir, DocFileName), b.Build()); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	world := fabric.NewWorld(2)
	plans := make([]Plan, 2)
	errs := runOnAllRanks(world, 2, func(f *fabric.InProcess) error {
		p, err := Load(context.Background(), f, dir)
		plans[f.Rank()] = p
		return err
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Load: %v", r, err)
		}
	}
	if len(plans[0].Containers) != 1 {
		t.Fatalf("expected 1 container, got %d", len(plans[0].Containers))
	}
	if plans[0].Files[0].HavePath {
		t.Fatal("container-mode files must not have PATH injected")
	}
}

func itoa(n int) string {
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
