// Package service contains the layer engine: registry, data cache, view
// state and scene composition.
package service

import (
	"github.com/joeblew999/plat-observatorio/internal/encode"
	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

// LayerID identifies one toggleable layer.
type LayerID string

const (
	LayerBoundary  LayerID = "limite_municipal"
	LayerBlocks    LayerID = "manzanas_censales"
	LayerBuildings LayerID = "osm_edificaciones"
	LayerRoads     LayerID = "osm_vias"
	LayerPlaces    LayerID = "google_places"
	LayerHeatmap   LayerID = "places_heatmap"
)

// LayerDescriptor is the static configuration of a layer.
//
// Field tags double as Huma schema docs and YAML override keys.
type LayerDescriptor struct {
	ID          LayerID      `json:"id" yaml:"-" doc:"Layer identifier" example:"osm_vias"`
	Label       string       `json:"label" yaml:"label" doc:"Display label" example:"Red Vial"`
	Domain      string       `json:"domain" yaml:"domain" doc:"Data domain used to group fetch errors" example:"osm"`
	Kind        geodata.Kind `json:"kind" yaml:"kind" doc:"Dataset variant: feature_collection, point_collection or weighted_points"`
	Endpoint    string       `json:"endpoint" yaml:"endpoint" doc:"Remote path relative to the API base" example:"/layers/osm_vias/geojson"`
	BaseColor   encode.RGB   `json:"baseColor" yaml:"baseColor" doc:"Base RGB color"`
	StrokeWidth float64      `json:"strokeWidth,omitempty" yaml:"strokeWidth" doc:"Line width in pixels"`
	Opacity     float64      `json:"opacity" yaml:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity (0-1)"`
	Filled      bool         `json:"filled" yaml:"filled" doc:"Whether polygons are filled"`
	Stroked     bool         `json:"stroked" yaml:"stroked" doc:"Whether outlines are drawn"`
	Extruded    bool         `json:"extruded" yaml:"extruded" doc:"Whether polygons are extruded in 3D"`
}

// ViewState is the camera. All five fields always travel together.
type ViewState struct {
	Longitude float64 `json:"longitude" doc:"Center longitude" example:"-76.6258"`
	Latitude  float64 `json:"latitude" doc:"Center latitude" example:"7.8833"`
	Zoom      float64 `json:"zoom" minimum:"0" maximum:"24" doc:"Zoom level" example:"13"`
	Pitch     float64 `json:"pitch" minimum:"0" maximum:"85" doc:"Pitch in degrees" example:"45"`
	Bearing   float64 `json:"bearing" doc:"Bearing in degrees" example:"-15"`
}

// DefaultViewState centers the camera on Apartadó.
var DefaultViewState = ViewState{
	Longitude: -76.6258,
	Latitude:  7.8833,
	Zoom:      13,
	Pitch:     45,
	Bearing:   -15,
}

// TooltipContent is what a hover shows. Only attributes present on the hit
// are set.
type TooltipContent struct {
	Name     string   `json:"name,omitempty" doc:"Feature name"`
	Category string   `json:"category,omitempty" doc:"Feature category"`
	Rating   *float64 `json:"rating,omitempty" doc:"Feature rating"`
}
