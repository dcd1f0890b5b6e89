package entities

import "errors"

// Device is a building-management device as listed by the backend
type Device struct {
	ID    string `json:"id" bson:"id"`
	Name  string `json:"name" bson:"name"`
	Type  string `json:"type,omitempty" bson:"type,omitempty"`
	Label string `json:"label,omitempty" bson:"label,omitempty"`
}

// DisplayName is the name shown to users and substituted into queries,
// falling back to the id when the device has no name.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func (d *Device) Validate() error {
	if d.ID == "" {
		return errors.New("device id is required")
	}
	return nil
}

// FindDevice returns the device with the given id
func FindDevice(devices []Device, id string) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
