package vad

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestProfileStore(t *testing.T) {
	store := NewProfileStore()

	if _, ok := store.Get(); ok {
		t.Fatal("Expected empty store")
	}

	first := Profile{NoiseFloor: 0.01, VoiceMean: 0.1, PitchMin: 100, PitchMax: 180}
	store.Set(first)

	got, ok := store.Get()
	if !ok || got != first {
		t.Errorf("Expected %+v, got %+v (ok=%v)", first, got, ok)
	}

	store.Clear()
	if _, ok := store.Get(); ok {
		t.Error("Expected store to be empty after Clear")
	}
}

func TestProfileStoreConcurrentReaders(t *testing.T) {
	store := NewProfileStore()
	a := Profile{NoiseFloor: 1, VoiceMean: 2, PitchMin: 3, PitchMax: 4}
	b := Profile{NoiseFloor: 10, VoiceMean: 20, PitchMin: 30, PitchMax: 40}
	store.Set(a)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				p, _ := store.Get()
				if p != a && p != b {
					t.Errorf("Observed torn profile %+v", p)
					return
				}
			}
		}()
	}

	for j := 0; j < 1000; j++ {
		if j%2 == 0 {
			store.Set(b)
		} else {
			store.Set(a)
		}
	}
	wg.Wait()
}

func TestHasPitchBand(t *testing.T) {
	if (Profile{}).HasPitchBand() {
		t.Error("Expected zero profile to have no pitch band")
	}
	if !(Profile{PitchMin: 120, PitchMax: 120}).HasPitchBand() {
		t.Error("Expected single-value band to be usable")
	}
}

func TestSaveLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	want := Profile{NoiseFloor: 0.012, VoiceMean: 0.09, PitchMin: 105.5, PitchMax: 210}

	if err := SaveProfile(path, want); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	got, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestLoadProfileRejectsInvertedBand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := SaveProfile(path, Profile{PitchMin: 200, PitchMax: 100}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	if _, err := LoadProfile(path); err == nil {
		t.Error("Expected error for inverted pitch band")
	}
}
