package main

import (
	"encoding/hex"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// DeviceIdentity is the synthetic handset fingerprint presented for one session.
type DeviceIdentity struct {
	DeviceID  string `json:"deviceId"`
	AndroidID string `json:"androidId"`
	SpoofedIP string `json:"spoffer"`
}

// GenerateDeviceIdentity returns a fresh identity. The backend validates the
// shape of these values, so each one mimics what a real install reports.
func GenerateDeviceIdentity() DeviceIdentity {
	return DeviceIdentity{
		DeviceID:  uuid.New().String(),
		AndroidID: randomAndroidID(),
		SpoofedIP: randomPublicIP(),
	}
}

// randomAndroidID returns a 64-bit Settings.Secure.ANDROID_ID in lowercase hex.
func randomAndroidID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// randomPublicIP returns a dotted IPv4 address outside private, loopback,
// link-local, CGNAT, multicast and reserved space.
func randomPublicIP() string {
	for {
		a := rand.Intn(223) + 1
		b := rand.Intn(256)
		if !isPublicPrefix(a, b) {
			continue
		}
		return fmt.Sprintf("%d.%d.%d.%d", a, b, rand.Intn(256), rand.Intn(254)+1)
	}
}

func isPublicPrefix(a, b int) bool {
	switch {
	case a == 0, a == 10, a == 127, a >= 224:
		return false
	case a == 100 && b >= 64 && b <= 127:
		return false
	case a == 169 && b == 254:
		return false
	case a == 172 && b >= 16 && b <= 31:
		return false
	case a == 192 && b == 168:
		return false
	case a == 198 && (b == 18 || b == 19):
		return false
	}
	return true
}
