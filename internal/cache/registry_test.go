// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

package cache

import (
	"reflect"
	"testing"
)

func TestRegistryMarkHas(t *testing.T) {
	r := NewFetchedRegistry()

	if r.Has("srv|acme|2026|invoices") {
		t.Error("empty registry should have nothing")
	}

	r.Mark("srv|acme|2026|invoices")
	if !r.Has("srv|acme|2026|invoices") {
		t.Error("marked source should be reported")
	}
	if r.Has("srv|acme|2026|orders") {
		t.Error("unmarked source must not be reported")
	}
}

func TestRegistryUnmark(t *testing.T) {
	r := NewFetchedRegistry()

	r.Mark("a")
	r.Mark("b")
	r.Unmark("a")

	if r.Has("a") {
		t.Error("unmarked source still present")
	}
	if !r.Has("b") {
		t.Error("Unmark must only remove its own source")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewFetchedRegistry()

	r.Mark("charlie")
	r.Mark("alpha")
	r.Mark("bravo")

	got := r.All()
	want := []string{"alpha", "bravo", "charlie"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewFetchedRegistry()

	r.Mark("a")
	r.Mark("b")
	r.Clear()

	if len(r.All()) != 0 {
		t.Errorf("expected empty registry after Clear, got %v", r.All())
	}
}
