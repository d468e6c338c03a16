package fstore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/varstore/lib/codec"
	"github.com/ValentinKolb/varstore/lib/frame"
	"github.com/ValentinKolb/varstore/lib/record"
	"github.com/ValentinKolb/varstore/lib/storage"
)

// --------------------------------------------------------------------------
// Test records and helpers
// --------------------------------------------------------------------------

// counterRecord is a minimal record holding one value
type counterRecord struct {
	record.Base

	value int32
}

func (c *counterRecord) Version() int32                { return 1 }
func (c *counterRecord) Write(w *codec.Writer)         { w.WriteVarInt(c.value) }
func (c *counterRecord) Read(r *codec.Reader, _ int32) { c.value = r.ReadVarInt() }

// textRecord holds one string, used for compression tests
type textRecord struct {
	record.Base

	text string
}

func (x *textRecord) Version() int32                { return 1 }
func (x *textRecord) Write(w *codec.Writer)         { w.WriteString(x.text) }
func (x *textRecord) Read(r *codec.Reader, _ int32) { x.text = r.ReadString() }

// slowRecord blocks inside its encoder until released, letting tests hold a
// disk write in flight at a known point
type slowRecord struct {
	record.Base

	value   int32
	entered chan struct{} // signalled when the encoder is reached
	release chan struct{} // closed by the test to let the encoder finish
}

func (s *slowRecord) Version() int32 { return 1 }

func (s *slowRecord) Write(w *codec.Writer) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	w.WriteVarInt(s.value)
}

func (s *slowRecord) Read(r *codec.Reader, _ int32) { s.value = r.ReadVarInt() }

// newTestStore creates a storage instance and returns the implementation for
// white-box access to counters and paths
func newTestStore(t *testing.T, opts *Options) *fstoreImpl {
	t.Helper()

	if opts == nil {
		opts = DefaultOptions(t.TempDir())
	}
	st, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { st.Shutdown(10 * time.Second) })

	return st.(*fstoreImpl)
}

// readCounterValue decodes the frame file at path and fails the test on any
// error
func readCounterValue(t *testing.T, path string) int32 {
	t.Helper()

	v, ok := tryReadCounterValue(path)
	if !ok {
		t.Fatalf("Failed to decode counter record from %s", path)
	}
	return v
}

// tryReadCounterValue decodes the frame file at path, tolerating missing or
// mid-rotation files
func tryReadCounterValue(path string) (int32, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	payload, err := frame.Decode(data)
	if err != nil {
		return 0, false
	}
	rec := &counterRecord{}
	if err := record.Unmarshal(payload, rec); err != nil {
		return 0, false
	}
	return rec.value, true
}

// flipByte corrupts a single byte of the file at path
func flipByte(t *testing.T, path string, offset int) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	data[offset] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func counterFactory() record.Record { return &counterRecord{} }

// --------------------------------------------------------------------------
// File layout
// --------------------------------------------------------------------------

func TestSaveCreatesFrameFile(t *testing.T) {
	st := newTestStore(t, nil)

	if _, err := st.Save("counter", &counterRecord{value: 7}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	if got := readCounterValue(t, st.primaryPath("counter")); got != 7 {
		t.Errorf("Expected primary file to hold 7, got %d", got)
	}

	// the first save has nothing to rotate aside
	if _, err := os.Stat(st.backupPath("counter")); !os.IsNotExist(err) {
		t.Errorf("Expected no backup file after the first save")
	}

	entries, err := os.ReadDir(st.opts.Dir)
	if err != nil {
		t.Fatalf("Failed to list data directory: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tempSuffix) {
			t.Errorf("Expected no scratch files after save, found %s", e.Name())
		}
	}
}

func TestBackupRotation(t *testing.T) {
	st := newTestStore(t, nil)

	for i := int32(1); i <= 3; i++ {
		if _, err := st.Save("counter", &counterRecord{value: i}).Wait(); err != nil {
			t.Fatalf("Unexpected error during Save %d: %v", i, err)
		}
	}

	if got := readCounterValue(t, st.primaryPath("counter")); got != 3 {
		t.Errorf("Expected primary file to hold 3, got %d", got)
	}

	// the backup always holds the previous version
	if got := readCounterValue(t, st.backupPath("counter")); got != 2 {
		t.Errorf("Expected backup file to hold 2, got %d", got)
	}
}

// --------------------------------------------------------------------------
// Write coalescing
// --------------------------------------------------------------------------

func TestCoalescedSaves(t *testing.T) {
	st := newTestStore(t, nil)

	first := &slowRecord{
		value:   0,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	// hold the first write in flight inside the encoder
	fut := st.Save("counter", first)
	<-first.entered

	// a burst of saves while the write is in flight must all attach to it
	numBurst := 50
	futures := make([]*storage.Future[struct{}], 0, numBurst)
	for i := 1; i <= numBurst; i++ {
		futures = append(futures, st.Save("counter", &slowRecord{value: int32(i)}))
	}

	close(first.release)

	if _, err := fut.Wait(); err != nil {
		t.Fatalf("Unexpected error during first Save: %v", err)
	}
	for i, f := range futures {
		if _, err := f.Wait(); err != nil {
			t.Errorf("Unexpected error during burst Save %d: %v", i+1, err)
		}
	}

	// the in-flight write plus exactly one follow-up carrying the newest state
	if writes := st.diskWrites.Get(); writes != 2 {
		t.Errorf("Expected 2 disk writes, got %d", writes)
	}

	// first write renames only the scratch file, the second also rotates the
	// primary aside
	if renames := st.diskRenames.Get(); renames != 3 {
		t.Errorf("Expected 3 renames, got %d", renames)
	}

	if coalesced := st.coalescedSaves.Get(); coalesced != uint64(numBurst) {
		t.Errorf("Expected %d coalesced saves, got %d", numBurst, coalesced)
	}

	// the follow-up write carries the last attached state
	if got := readCounterValue(t, st.primaryPath("counter")); got != int32(numBurst) {
		t.Errorf("Expected primary file to hold %d, got %d", numBurst, got)
	}
}

// --------------------------------------------------------------------------
// Corruption handling
// --------------------------------------------------------------------------

func TestCorruptPrimaryFallsBackToBackup(t *testing.T) {
	st := newTestStore(t, nil)

	for i := int32(1); i <= 2; i++ {
		if _, err := st.Save("counter", &counterRecord{value: i}).Wait(); err != nil {
			t.Fatalf("Unexpected error during Save %d: %v", i, err)
		}
	}

	// corrupt the primary body, the backup still holds the first version
	flipByte(t, st.primaryPath("counter"), 5)
	st.InvalidateCache("counter")

	res, err := st.Load("counter", counterFactory).Wait()
	if err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}
	if !res.Found {
		t.Fatalf("Expected the backup to be restored")
	}
	if got := res.Record.(*counterRecord).value; got != 1 {
		t.Errorf("Expected backup value 1, got %d", got)
	}

	if n := st.corruptFrames.Get(); n != 1 {
		t.Errorf("Expected 1 rejected frame, got %d", n)
	}
	if n := st.backupRecoveries.Get(); n != 1 {
		t.Errorf("Expected 1 backup recovery, got %d", n)
	}
}

func TestCorruptPrimaryAndBackupReportsAbsent(t *testing.T) {
	st := newTestStore(t, nil)

	for i := int32(1); i <= 2; i++ {
		if _, err := st.Save("counter", &counterRecord{value: i}).Wait(); err != nil {
			t.Fatalf("Unexpected error during Save %d: %v", i, err)
		}
	}

	flipByte(t, st.primaryPath("counter"), 5)
	flipByte(t, st.backupPath("counter"), 5)
	st.InvalidateCache("counter")

	// an unreadable key reports absent, never an error
	res, err := st.Load("counter", counterFactory).Wait()
	if err != nil {
		t.Fatalf("Expected no error for an unreadable key, got %v", err)
	}
	if res.Found {
		t.Errorf("Expected Found=false when both files are corrupt")
	}

	if n := st.corruptFrames.Get(); n != 2 {
		t.Errorf("Expected 2 rejected frames, got %d", n)
	}
}

func TestDeleteKeepsBackup(t *testing.T) {
	st := newTestStore(t, nil)

	for i := int32(1); i <= 2; i++ {
		if _, err := st.Save("counter", &counterRecord{value: i}).Wait(); err != nil {
			t.Fatalf("Unexpected error during Save %d: %v", i, err)
		}
	}

	if _, err := st.Delete("counter").Wait(); err != nil {
		t.Fatalf("Unexpected error during Delete: %v", err)
	}

	if _, err := os.Stat(st.primaryPath("counter")); !os.IsNotExist(err) {
		t.Errorf("Expected primary file to be removed by Delete")
	}
	if _, err := os.Stat(st.backupPath("counter")); err != nil {
		t.Errorf("Expected backup file to survive Delete: %v", err)
	}

	// exists probes only the primary file
	exists, err := st.Exists("counter").Wait()
	if err != nil {
		t.Fatalf("Unexpected error during Exists: %v", err)
	}
	if exists {
		t.Errorf("Expected Exists to report false after Delete")
	}

	// a load falls back to the surviving backup, restoring the previous
	// version of a deleted key
	res, err := st.Load("counter", counterFactory).Wait()
	if err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}
	if !res.Found {
		t.Fatalf("Expected the backup to be restored after Delete")
	}
	if got := res.Record.(*counterRecord).value; got != 1 {
		t.Errorf("Expected backup value 1, got %d", got)
	}
}

// --------------------------------------------------------------------------
// Disk full guard
// --------------------------------------------------------------------------

func TestDiskFullGuard(t *testing.T) {
	st := newTestStore(t, nil)

	if _, err := st.Save("counter", &counterRecord{value: 1}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// report less free space than the configured minimum
	st.freeSpace = func(string) (uint64, error) { return 1024, nil }

	rec := &counterRecord{value: 2}
	if _, err := st.Save("counter", rec).Wait(); !errors.Is(err, storage.ErrDiskFull) {
		t.Fatalf("Expected ErrDiskFull, got %v", err)
	}
	if n := st.diskFullAborts.Get(); n != 1 {
		t.Errorf("Expected 1 disk full abort, got %d", n)
	}

	// the aborted save must not have touched any file
	if got := readCounterValue(t, st.primaryPath("counter")); got != 1 {
		t.Errorf("Expected primary file to still hold 1, got %d", got)
	}
	if _, err := os.Stat(st.backupPath("counter")); !os.IsNotExist(err) {
		t.Errorf("Expected no backup file after an aborted save")
	}
	entries, err := os.ReadDir(st.opts.Dir)
	if err != nil {
		t.Fatalf("Failed to list data directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the primary file in the data directory, got %d entries", len(entries))
	}

	// the record is still dirty, freeing space lets the next save succeed
	if !rec.IsDirty() {
		t.Fatalf("Expected record to stay dirty after an aborted save")
	}
	st.freeSpace = diskFreeSpace

	if _, err := st.Save("counter", rec).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save after freeing space: %v", err)
	}
	if got := readCounterValue(t, st.primaryPath("counter")); got != 2 {
		t.Errorf("Expected primary file to hold 2, got %d", got)
	}
}

// --------------------------------------------------------------------------
// Scratch file handling
// --------------------------------------------------------------------------

func TestScratchFileCleanup(t *testing.T) {
	st := newTestStore(t, nil)

	if _, err := st.Save("counter", &counterRecord{value: 1}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// plant an abandoned scratch file as a crashed write would leave it,
	// plus a regular record whose key contains a dot
	orphan := st.tempPath("counter")
	if err := os.WriteFile(orphan, []byte("leftover"), 0o644); err != nil {
		t.Fatalf("Failed to plant scratch file: %v", err)
	}
	if _, err := st.Save("counter.archive", &counterRecord{value: 9}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	if _, err := st.Delete("counter").Wait(); err != nil {
		t.Fatalf("Unexpected error during Delete: %v", err)
	}

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("Expected the abandoned scratch file to be removed by Delete")
	}

	// the dotted key's record does not match the scratch naming scheme and
	// must survive
	if got := readCounterValue(t, st.primaryPath("counter.archive")); got != 9 {
		t.Errorf("Expected counter.archive to survive, got %d", got)
	}
}

// --------------------------------------------------------------------------
// Compression
// --------------------------------------------------------------------------

func TestCompression(t *testing.T) {
	st := newTestStore(t, nil)

	// small payloads stay raw
	if _, err := st.Save("small", &textRecord{text: "hi"}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	data, err := os.ReadFile(st.primaryPath("small"))
	if err != nil {
		t.Fatalf("Failed to read primary file: %v", err)
	}
	if compressed, err := frame.IsCompressed(data); err != nil || compressed {
		t.Errorf("Expected a raw frame for a small record, compressed=%v err=%v", compressed, err)
	}

	// large payloads are compressed transparently
	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	if _, err := st.Save("large", &textRecord{text: long}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	data, err = os.ReadFile(st.primaryPath("large"))
	if err != nil {
		t.Fatalf("Failed to read primary file: %v", err)
	}
	if compressed, err := frame.IsCompressed(data); err != nil || !compressed {
		t.Errorf("Expected a compressed frame for a large record, compressed=%v err=%v", compressed, err)
	}

	st.InvalidateCache("large")
	res, err := st.Load("large", func() record.Record { return &textRecord{} }).Wait()
	if err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}
	if !res.Found {
		t.Fatalf("Expected the compressed record to be found")
	}
	if got := res.Record.(*textRecord).text; got != long {
		t.Errorf("Compressed record did not round-trip, got %d bytes", len(got))
	}
}

// --------------------------------------------------------------------------
// Cache eviction
// --------------------------------------------------------------------------

func TestDirtyEvictionResave(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.MaxCachedRecords = 4
	opts.JanitorInterval = 10 * time.Millisecond
	st := newTestStore(t, opts)

	rec := &counterRecord{value: 1}
	if _, err := st.Save("hero", rec).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// modify the cached record without saving it
	rec.value = 2
	rec.MarkDirty()

	// flood the cache so the janitor pushes the dirty record out
	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("filler-%d", i)
		if _, err := st.Save(key, &counterRecord{value: int32(i)}).Wait(); err != nil {
			t.Fatalf("Unexpected error during Save of %s: %v", key, err)
		}
	}

	// the eviction must write the modified state back to disk
	deadline := time.Now().Add(5 * time.Second)
	for {
		if v, ok := tryReadCounterValue(st.primaryPath("hero")); ok && v == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected the evicted dirty record to be re-saved")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExpiryEviction(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.CacheExpiry = 50 * time.Millisecond
	opts.JanitorInterval = 10 * time.Millisecond
	st := newTestStore(t, opts)

	if _, err := st.Save("fleeting", &counterRecord{value: 1}).Wait(); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// the clean record ages out of the cache without another disk write
	deadline := time.Now().Add(5 * time.Second)
	for {
		if st.GetInfo().CachedEntries == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected the idle record to be evicted, still cached after %s", 5*time.Second)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if writes := st.diskWrites.Get(); writes != 1 {
		t.Errorf("Expected no additional write for a clean eviction, got %d", writes)
	}

	// the record is still on disk
	if got := readCounterValue(t, st.primaryPath("fleeting")); got != 1 {
		t.Errorf("Expected primary file to hold 1, got %d", got)
	}
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

func TestGetInfo(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	st := newTestStore(t, opts)

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("player-%d", i)
		if _, err := st.Save(key, &counterRecord{value: int32(i)}).Wait(); err != nil {
			t.Fatalf("Unexpected error during Save: %v", err)
		}
	}

	info := st.GetInfo()

	if info.Dir != opts.Dir {
		t.Errorf("Expected dir %s, got %s", opts.Dir, info.Dir)
	}
	if info.CachedEntries != 3 {
		t.Errorf("Expected 3 cached entries, got %d", info.CachedEntries)
	}
	if info.DirtyEntries != 0 {
		t.Errorf("Expected no dirty entries, got %d", info.DirtyEntries)
	}
	if info.PendingSaves != 0 {
		t.Errorf("Expected no pending saves, got %d", info.PendingSaves)
	}
	if info.Counters.DiskWrites != 3 {
		t.Errorf("Expected 3 disk writes, got %d", info.Counters.DiskWrites)
	}
	if info.AvgPayloadSize <= 0 {
		t.Errorf("Expected a positive average payload size, got %d", info.AvgPayloadSize)
	}
	if info.StripeDistr.Max < 1 {
		t.Errorf("Expected at least one stripe to hold a key, got max %f", info.StripeDistr.Max)
	}

	// a modified cached record shows up as dirty
	res, err := st.Load("player-0", counterFactory).Wait()
	if err != nil || !res.Found {
		t.Fatalf("Unexpected load result: found=%v err=%v", res.Found, err)
	}
	res.Record.(*counterRecord).MarkDirty()

	if dirty := st.GetInfo().DirtyEntries; dirty != 1 {
		t.Errorf("Expected 1 dirty entry, got %d", dirty)
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

func TestShutdownDrainsPendingWrites(t *testing.T) {
	st := newTestStore(t, nil)

	for i := 0; i < 10; i++ {
		// deliberately not waiting on the futures
		st.Save(fmt.Sprintf("player-%d", i), &counterRecord{value: int32(i)})
	}

	if err := st.Shutdown(10 * time.Second); err != nil {
		t.Fatalf("Unexpected error during Shutdown: %v", err)
	}

	// every write must have completed before shutdown returned
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("player-%d", i)
		if got := readCounterValue(t, st.primaryPath(key)); got != int32(i) {
			t.Errorf("Expected %s to hold %d, got %d", key, i, got)
		}
	}
}

func TestShutdownTimeoutFailsPendingSaves(t *testing.T) {
	st := newTestStore(t, nil)

	stuck := &slowRecord{
		value:   1,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	fut := st.Save("stuck", stuck)
	<-stuck.entered

	// the write can not finish, shutdown must give up after the timeout
	if err := st.Shutdown(50 * time.Millisecond); err == nil {
		t.Errorf("Expected Shutdown to report the timeout")
	}

	if _, err := fut.Wait(); !errors.Is(err, storage.ErrShutdown) {
		t.Errorf("Expected ErrShutdown for the abandoned save, got %v", err)
	}

	// let the worker finish and wait for its file work so the test
	// directory is not torn down underneath it
	close(stuck.release)
	deadline := time.Now().Add(5 * time.Second)
	for stuck.IsDirty() {
		if time.Now().After(deadline) {
			t.Fatalf("Expected the released write to finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
