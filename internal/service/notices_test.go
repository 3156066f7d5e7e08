package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

func TestNotices_GroupedByDomain(t *testing.T) {
	n := NewNotices()
	n.Report(&FetchError{Layer: LayerRoads, Domain: "osm", Err: errUpstream})
	n.Report(&FetchError{Layer: LayerBuildings, Domain: "osm", Err: errUpstream})
	n.Report(&FetchError{Layer: LayerPlaces, Domain: "economia",
		Err: fmt.Errorf("%w: bad json", geodata.ErrMalformedPayload)})

	all := n.List()
	if len(all) != 3 || all[0].Domain != "economia" || !all[0].Malformed {
		t.Fatalf("unexpected notices %+v", all)
	}
	if got := n.Domain("osm"); len(got) != 2 {
		t.Fatalf("expected two osm notices, got %+v", got)
	}

	n.Resolve("osm", LayerRoads)
	if got := n.Domain("osm"); len(got) != 1 || got[0].Layer != LayerBuildings {
		t.Fatalf("expected buildings notice only, got %+v", got)
	}
}

func TestNotices_LatestFailureWins(t *testing.T) {
	n := NewNotices()
	n.Report(&FetchError{Layer: LayerRoads, Domain: "osm", Err: errors.New("first")})
	n.Report(&FetchError{Layer: LayerRoads, Domain: "osm", Err: errors.New("second")})

	got := n.List()
	if len(got) != 1 || got[0].Message != "second" {
		t.Fatalf("expected latest message, got %+v", got)
	}
}

func TestFetchError_Unwraps(t *testing.T) {
	err := error(&FetchError{Layer: LayerRoads, Domain: "osm",
		Err: fmt.Errorf("%w: status 502", ErrFetchFailed)})
	if !errors.Is(err, ErrFetchFailed) || !IsFetchError(err) {
		t.Fatalf("expected wrapped fetch failure, got %v", err)
	}
	if IsFetchError(errUpstream) {
		t.Fatalf("expected plain error not to be a fetch error")
	}
}

func TestNotices_Layer(t *testing.T) {
	n := NewNotices()
	if _, ok := n.Layer(LayerRoads); ok {
		t.Fatalf("expected no notice")
	}
	n.Report(&FetchError{Layer: LayerRoads, Domain: "osm", Err: errUpstream})
	if got, ok := n.Layer(LayerRoads); !ok || got.Domain != "osm" {
		t.Fatalf("expected roads notice, got %+v %v", got, ok)
	}
}
