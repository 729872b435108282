package tile

// SamplerBinding indexes a semantic texture slot of a tile.
type SamplerBinding int

// Fixed bindings. Shared layers occupy BindingShared and above, in the
// order they were registered with NewRenderBindings.
const (
	BindingColor SamplerBinding = iota
	BindingColorParent
	BindingElevation
	BindingNormal
	BindingLandCover
	BindingShared
)

var bindingNames = [...]string{
	BindingColor:       "color",
	BindingColorParent: "color_parent",
	BindingElevation:   "elevation",
	BindingNormal:      "normal",
	BindingLandCover:   "landcover",
}

// Binding describes one slot.
type Binding struct {
	Name   string
	Active bool
	// SourceUID is the layer feeding a shared slot; zero for fixed slots.
	SourceUID UID
}

// RenderBindings is the slot table shared by every tile of an engine.
type RenderBindings []Binding

// NewRenderBindings returns the fixed slots followed by one shared slot per
// layer.
func NewRenderBindings(shared ...Layer) RenderBindings {
	b := make(RenderBindings, int(BindingShared)+len(shared))
	for i, name := range bindingNames {
		b[i] = Binding{Name: name, Active: true}
	}
	for i, l := range shared {
		b[int(BindingShared)+i] = Binding{Name: l.Name(), Active: true, SourceUID: l.UID()}
	}
	return b
}

// Shared returns the slot of the shared layer uid.
func (b RenderBindings) Shared(uid UID) (SamplerBinding, bool) {
	for i := int(BindingShared); i < len(b); i++ {
		if b[i].SourceUID == uid {
			return SamplerBinding(i), true
		}
	}
	return 0, false
}

// String returns the slot name.
func (s SamplerBinding) String() string {
	if s >= 0 && int(s) < len(bindingNames) {
		return bindingNames[s]
	}
	return "shared"
}
