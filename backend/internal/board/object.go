package board

// ObjectType is the closed set of things a board can hold.
type ObjectType string

const (
	TypeSticky    ObjectType = "sticky"
	TypeRect      ObjectType = "rect"
	TypeCircle    ObjectType = "circle"
	TypeLine      ObjectType = "line"
	TypeText      ObjectType = "text"
	TypeFrame     ObjectType = "frame"
	TypeConnector ObjectType = "connector"
)

// Valid reports whether t is one of the known object types.
func (t ObjectType) Valid() bool {
	switch t {
	case TypeSticky, TypeRect, TypeCircle, TypeLine, TypeText, TypeFrame, TypeConnector:
		return true
	}
	return false
}

// Object is one graphical entity on a board.
// SourceID, TargetID and ParentFrameID are weak references: they may name
// an id that does not exist, which simply means "unattached".
type Object struct {
	ID          string     `json:"id"`
	Type        ObjectType `json:"type"`
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Width       float64    `json:"width"`
	Height      float64    `json:"height"`
	Rotation    float64    `json:"rotation"`
	ZIndex      float64    `json:"zIndex"`
	Fill        string     `json:"fill"`
	Stroke      string     `json:"stroke"`
	StrokeWidth float64    `json:"strokeWidth"`
	Opacity     float64    `json:"opacity"`
	Text        string     `json:"text"`
	FontSize    float64    `json:"fontSize"`

	// connector / line only
	Points   []float64 `json:"points,omitempty"`
	SourceID string    `json:"sourceId,omitempty"`
	TargetID string    `json:"targetId,omitempty"`

	ParentFrameID string `json:"parentFrameId,omitempty"`
}

// clone returns a copy that shares no slices with o.
func (o Object) clone() Object {
	if o.Points != nil {
		o.Points = append([]float64(nil), o.Points...)
	}
	return o
}

// Props is a sparse set of field assignments carried by an Update.
// A nil field means "leave as is". The id is never part of Props.
type Props struct {
	Type          *ObjectType `json:"type,omitempty"`
	X             *float64    `json:"x,omitempty"`
	Y             *float64    `json:"y,omitempty"`
	Width         *float64    `json:"width,omitempty"`
	Height        *float64    `json:"height,omitempty"`
	Rotation      *float64    `json:"rotation,omitempty"`
	ZIndex        *float64    `json:"zIndex,omitempty"`
	Fill          *string     `json:"fill,omitempty"`
	Stroke        *string     `json:"stroke,omitempty"`
	StrokeWidth   *float64    `json:"strokeWidth,omitempty"`
	Opacity       *float64    `json:"opacity,omitempty"`
	Text          *string     `json:"text,omitempty"`
	FontSize      *float64    `json:"fontSize,omitempty"`
	Points        *[]float64  `json:"points,omitempty"`
	SourceID      *string     `json:"sourceId,omitempty"`
	TargetID      *string     `json:"targetId,omitempty"`
	ParentFrameID *string     `json:"parentFrameId,omitempty"`
}

// Empty reports whether p assigns nothing.
func (p Props) Empty() bool {
	return p == Props{}
}

// merge writes every assigned field of p onto o.
func (p Props) merge(o Object) Object {
	if p.Type != nil {
		o.Type = *p.Type
	}
	if p.X != nil {
		o.X = *p.X
	}
	if p.Y != nil {
		o.Y = *p.Y
	}
	if p.Width != nil {
		o.Width = *p.Width
	}
	if p.Height != nil {
		o.Height = *p.Height
	}
	if p.Rotation != nil {
		o.Rotation = *p.Rotation
	}
	if p.ZIndex != nil {
		o.ZIndex = *p.ZIndex
	}
	if p.Fill != nil {
		o.Fill = *p.Fill
	}
	if p.Stroke != nil {
		o.Stroke = *p.Stroke
	}
	if p.StrokeWidth != nil {
		o.StrokeWidth = *p.StrokeWidth
	}
	if p.Opacity != nil {
		o.Opacity = *p.Opacity
	}
	if p.Text != nil {
		o.Text = *p.Text
	}
	if p.FontSize != nil {
		o.FontSize = *p.FontSize
	}
	if p.Points != nil {
		o.Points = append([]float64(nil), (*p.Points)...)
	}
	if p.SourceID != nil {
		o.SourceID = *p.SourceID
	}
	if p.TargetID != nil {
		o.TargetID = *p.TargetID
	}
	if p.ParentFrameID != nil {
		o.ParentFrameID = *p.ParentFrameID
	}
	return o
}

// Float and String build Props values inline: Props{X: board.Float(10)}.
func Float(v float64) *float64 { return &v }
func String(v string) *string  { return &v }
