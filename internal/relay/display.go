package relay

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxDisplayPanels   = 64
	maxPanelNameLen    = 64
	maxImageIDLen      = 128
	maxAnnouncementLen = 200

	// assetScheme prefixes a bare image id so the game can load it directly.
	assetScheme = "rbxassetid://"
)

// DefaultAnnouncementColor is gold.
var DefaultAnnouncementColor = [3]int{255, 215, 0}

// Display is what the in-game panels show: an image per panel plus one
// announcement spread across a set of panels.
type Display struct {
	Images       map[string]string `json:"images"` // panel -> asset reference
	Announcement Announcement      `json:"announcement"`
	UpdatedAt    int64             `json:"updatedAt,omitempty"`
}

// Announcement is banner text shown on Panels in Color (RGB).
type Announcement struct {
	Text   string `json:"text"`
	Panels []int  `json:"panels"`
	Color  [3]int `json:"color"`
}

// ImageInput assigns an image to a panel.
type ImageInput struct {
	Panel   string
	ImageID string
}

// AnnouncementInput replaces the announcement. A nil Color means the default.
type AnnouncementInput struct {
	Text   string
	Panels []int
	Color  []int
}

// DefaultDisplay is the state of a tenant that never set one.
func DefaultDisplay() Display {
	return Display{
		Images: map[string]string{},
		Announcement: Announcement{
			Panels: []int{},
			Color:  DefaultAnnouncementColor,
		},
	}
}

func (d Display) clone() Display {
	images := make(map[string]string, len(d.Images))
	for k, v := range d.Images {
		images[k] = v
	}
	d.Images = images
	d.Announcement.Panels = append([]int{}, d.Announcement.Panels...)
	return d
}

// assetRef turns an image id into something the game can load. Ids that
// already carry a scheme pass through.
func assetRef(id string) string {
	if strings.Contains(id, "://") {
		return id
	}
	return assetScheme + id
}

func validateImage(d Display, in ImageInput) error {
	switch {
	case in.Panel == "" || in.ImageID == "":
		return fmt.Errorf("%w: panel and imageId are required", ErrMalformed)
	case !utf8.ValidString(in.Panel) || utf8.RuneCountInString(in.Panel) > maxPanelNameLen:
		return fmt.Errorf("%w: panel name", ErrMalformed)
	case !utf8.ValidString(in.ImageID) || len(in.ImageID) > maxImageIDLen:
		return fmt.Errorf("%w: imageId", ErrMalformed)
	}
	if _, exists := d.Images[in.Panel]; !exists && len(d.Images) >= maxDisplayPanels {
		return fmt.Errorf("%w: at most %d panels", ErrMalformed, maxDisplayPanels)
	}
	return nil
}

func buildAnnouncement(in AnnouncementInput) (Announcement, error) {
	if !utf8.ValidString(in.Text) {
		return Announcement{}, fmt.Errorf("%w: text must be UTF-8", ErrMalformed)
	}
	if len(in.Panels) > maxDisplayPanels {
		return Announcement{}, fmt.Errorf("%w: at most %d panels", ErrMalformed, maxDisplayPanels)
	}

	a := Announcement{
		Text:   truncateRunes(in.Text, maxAnnouncementLen),
		Panels: append([]int{}, in.Panels...),
		Color:  DefaultAnnouncementColor,
	}
	if in.Color != nil {
		if len(in.Color) != 3 {
			return Announcement{}, fmt.Errorf("%w: color must be [r,g,b]", ErrMalformed)
		}
		for i, c := range in.Color {
			a.Color[i] = min(max(c, 0), 255)
		}
	}
	return a, nil
}
