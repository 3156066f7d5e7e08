package encode

// Category is the closed set of point-of-interest categories with a color.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryRestaurantes
	CategoryBancos
	CategoryFarmacias
	CategoryHospitales
	CategoryColegios
	CategorySupermercados
	CategoryTiendas
	CategoryIglesias
	CategoryHoteles
	CategoryCafeterias
	CategoryBares
	CategoryPanaderias
	CategoryFerreterias
	CategoryTalleres
	CategorySalones
)

// DefaultColor is used for CategoryUnknown.
var DefaultColor = RGB{24, 144, 255}

var categoryLabels = map[string]Category{
	"Restaurantes":       CategoryRestaurantes,
	"Bancos":             CategoryBancos,
	"Farmacias":          CategoryFarmacias,
	"Hospitales":         CategoryHospitales,
	"Colegios":           CategoryColegios,
	"Supermercados":      CategorySupermercados,
	"Tiendas":            CategoryTiendas,
	"Iglesias":           CategoryIglesias,
	"Hoteles":            CategoryHoteles,
	"Caféterías":         CategoryCafeterias,
	"Bares":              CategoryBares,
	"Panaderías":         CategoryPanaderias,
	"Ferreterías":        CategoryFerreterias,
	"Talleres mecánicos": CategoryTalleres,
	"Salones de belleza": CategorySalones,
}

// ParseCategory matches label exactly (case and accents included).
// Any other label, including "", is CategoryUnknown.
func ParseCategory(label string) Category {
	if c, ok := categoryLabels[label]; ok {
		return c
	}
	return CategoryUnknown
}

// Color returns the marker color for c.
func (c Category) Color() RGB {
	switch c {
	case CategoryRestaurantes, CategoryHoteles:
		return RGB{250, 140, 22}
	case CategoryBancos:
		return RGB{0, 80, 179}
	case CategoryFarmacias:
		return RGB{82, 196, 26}
	case CategoryHospitales:
		return RGB{245, 34, 45}
	case CategoryColegios:
		return RGB{24, 144, 255}
	case CategorySupermercados:
		return RGB{64, 169, 255}
	case CategoryTiendas:
		return RGB{105, 192, 255}
	case CategoryIglesias:
		return RGB{140, 140, 140}
	case CategoryCafeterias:
		return RGB{160, 120, 60}
	case CategoryBares:
		return RGB{207, 19, 34}
	case CategoryPanaderias:
		return RGB{212, 107, 8}
	case CategoryFerreterias, CategoryTalleres:
		return RGB{89, 89, 89}
	case CategorySalones:
		return RGB{194, 84, 148}
	case CategoryUnknown:
		return DefaultColor
	}
	return DefaultColor
}

// CategoryColor is ParseCategory(label).Color(). A missing category is
// passed as "".
func CategoryColor(label string) RGB {
	return ParseCategory(label).Color()
}
