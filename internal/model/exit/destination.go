package exit

// Variant names a quick-exit option.
const (
	VariantA     = "a"
	VariantB     = "b"
	VariantBlank = "blank"
)

// BlankURL is where the close-and-blank variant ends up.
const BlankURL = "about:blank"

// Destination is one quick-exit target exposed to the frontend.
type Destination struct {
	Variant string `json:"variant"`
	Label   string `json:"label"`
	URL     string `json:"url"`
}

// Seed returns the default quick-exit set. Empty URLs fall back to neutral
// public pages.
func Seed(urlA, urlB string) []Destination {
	if urlA == "" {
		urlA = "https://www.google.com"
	}
	if urlB == "" {
		urlB = "https://weather.com"
	}
	return []Destination{
		{Variant: VariantA, Label: "Search", URL: urlA},
		{Variant: VariantB, Label: "Weather", URL: urlB},
		{Variant: VariantBlank, Label: "Close", URL: BlankURL},
	}
}
