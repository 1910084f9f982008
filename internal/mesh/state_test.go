package mesh

import (
	"reflect"
	"sort"
	"testing"

	"github.com/plexus-mesh/plexus/internal/meshproto"
)

func hb(peerID string, ts uint64) meshproto.Heartbeat {
	return meshproto.Heartbeat{
		PeerID:    peerID,
		Model:     "tinyllama",
		Timestamp: ts,
		Capabilities: meshproto.NodeCapabilities{
			CPUCores: 4,
		},
	}
}

// S1 — LWW update rejects stale.
func TestUpdate_RejectsStaleTimestamp(t *testing.T) {
	s := OpenMemory()
	defer s.Close()

	must(t, s.Update(hb("A", 5)))
	must(t, s.Update(hb("A", 3)))
	must(t, s.Update(hb("A", 5)))

	got, ok := s.Get("A")
	if !ok {
		t.Fatal("Get(A) not found")
	}
	if got.Timestamp != 5 {
		t.Errorf("Get(A).Timestamp = %d, want 5", got.Timestamp)
	}
	if len(s.GetAll()) != 1 {
		t.Errorf("GetAll() length = %d, want 1", len(s.GetAll()))
	}
}

func TestUpdate_OverwritesNewer(t *testing.T) {
	s := OpenMemory()
	defer s.Close()

	must(t, s.Update(hb("A", 1)))
	must(t, s.Update(hb("A", 10)))

	got, _ := s.Get("A")
	if got.Timestamp != 10 {
		t.Errorf("Get(A).Timestamp = %d, want 10", got.Timestamp)
	}
}

func TestGet_MissingPeer(t *testing.T) {
	s := OpenMemory()
	defer s.Close()

	if _, ok := s.Get("nobody"); ok {
		t.Error("Get() found a heartbeat for a peer that was never updated")
	}
}

// CRDT law: idempotence.
func TestMerge_Idempotent(t *testing.T) {
	inputs := []meshproto.Heartbeat{hb("A", 1), hb("B", 2)}

	s1 := OpenMemory()
	defer s1.Close()
	must(t, s1.Merge(inputs))
	must(t, s1.Merge(inputs))

	s2 := OpenMemory()
	defer s2.Close()
	must(t, s2.Merge(inputs))

	assertSameState(t, s1, s2)
}

// CRDT law: commutativity.
func TestMerge_Commutative(t *testing.T) {
	a, b, c := hb("A", 1), hb("B", 5), hb("A", 9)

	s1 := OpenMemory()
	defer s1.Close()
	must(t, s1.Merge([]meshproto.Heartbeat{a, b, c}))

	s2 := OpenMemory()
	defer s2.Close()
	must(t, s2.Merge([]meshproto.Heartbeat{c, a, b}))

	assertSameState(t, s1, s2)
}

// CRDT law: associativity.
func TestMerge_Associative(t *testing.T) {
	a := []meshproto.Heartbeat{hb("A", 1)}
	b := []meshproto.Heartbeat{hb("B", 2), hb("A", 3)}
	c := []meshproto.Heartbeat{hb("A", 2), hb("C", 1)}

	// merge(merge(A, B), C)
	s1 := OpenMemory()
	defer s1.Close()
	must(t, s1.Merge(a))
	must(t, s1.Merge(b))
	must(t, s1.Merge(c))

	// merge(A, merge(B, C))
	bc := append(append([]meshproto.Heartbeat{}, b...), c...)
	s2 := OpenMemory()
	defer s2.Close()
	must(t, s2.Merge(a))
	must(t, s2.Merge(bc))

	assertSameState(t, s1, s2)
}

// Property: for every peer, the stored timestamp is the max observed.
func TestMerge_StoresMaxTimestampPerPeer(t *testing.T) {
	inputs := []meshproto.Heartbeat{
		hb("A", 1), hb("A", 7), hb("A", 3),
		hb("B", 2), hb("B", 2), hb("B", 9),
	}
	s := OpenMemory()
	defer s.Close()
	must(t, s.Merge(inputs))

	wantMax := map[string]uint64{}
	for _, in := range inputs {
		if in.Timestamp > wantMax[in.PeerID] {
			wantMax[in.PeerID] = in.Timestamp
		}
	}
	for peerID, want := range wantMax {
		got, ok := s.Get(peerID)
		if !ok {
			t.Fatalf("Get(%s) not found", peerID)
		}
		if got.Timestamp != want {
			t.Errorf("Get(%s).Timestamp = %d, want %d", peerID, got.Timestamp, want)
		}
	}
}

func TestGetAll_SkipsCorruptRecords(t *testing.T) {
	s := OpenMemory()
	defer s.Close()

	must(t, s.Update(hb("A", 1)))
	// Inject a corrupt record directly into the backing store.
	_ = s.backing.Put(key("B"), []byte("not cbor"))
	must(t, s.Update(hb("C", 1)))

	all := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll() length = %d, want 2 (corrupt entry skipped)", len(all))
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertSameState(t *testing.T, a, b *State) {
	t.Helper()
	aAll, bAll := a.GetAll(), b.GetAll()
	sort.Slice(aAll, func(i, j int) bool { return aAll[i].PeerID < aAll[j].PeerID })
	sort.Slice(bAll, func(i, j int) bool { return bAll[i].PeerID < bAll[j].PeerID })
	if !reflect.DeepEqual(aAll, bAll) {
		t.Errorf("states differ:\n  a = %+v\n  b = %+v", aAll, bAll)
	}
}
