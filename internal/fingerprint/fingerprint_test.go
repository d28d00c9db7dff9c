package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/Echolocate/internal/db"
)

func TestGuessOS(t *testing.T) {
	t.Run("ios via lockdownd port", func(t *testing.T) {
		guess := GuessOS([]int{62078}, "")
		require.NotNil(t, guess)
		assert.Equal(t, "iOS", guess.OS)
		assert.InDelta(t, 0.85, guess.Confidence, 0.001)
	})

	t.Run("macos via afp", func(t *testing.T) {
		guess := GuessOS([]int{548, 22}, "")
		require.NotNil(t, guess)
		assert.Equal(t, "macOS", guess.OS)
		assert.InDelta(t, 0.80, guess.Confidence, 0.001)
	})

	t.Run("windows via smb and rpc", func(t *testing.T) {
		guess := GuessOS([]int{135, 445, 139}, "")
		require.NotNil(t, guess)
		assert.Equal(t, "Windows", guess.OS)
		assert.InDelta(t, 0.85, guess.Confidence, 0.001)
	})

	t.Run("windows via smb alone", func(t *testing.T) {
		guess := GuessOS([]int{445}, "")
		require.NotNil(t, guess)
		assert.Equal(t, "Windows", guess.OS)
		assert.InDelta(t, 0.60, guess.Confidence, 0.001)
	})

	t.Run("smb with ssh is not windows", func(t *testing.T) {
		guess := GuessOS([]int{445, 22}, "")
		assert.Nil(t, guess)
	})

	t.Run("linux via ssh", func(t *testing.T) {
		guess := GuessOS([]int{22, 80}, "")
		require.NotNil(t, guess)
		assert.Equal(t, "Linux", guess.OS)
		assert.InDelta(t, 0.55, guess.Confidence, 0.001)
	})

	t.Run("printer firmware", func(t *testing.T) {
		for _, port := range []int{631, 9100} {
			guess := GuessOS([]int{port}, "")
			require.NotNil(t, guess)
			assert.Equal(t, "Printer firmware", guess.OS)
			assert.InDelta(t, 0.70, guess.Confidence, 0.001)
		}
	})

	t.Run("router firmware needs vendor and few ports", func(t *testing.T) {
		guess := GuessOS([]int{80, 443}, "TP-Link Technologies")
		require.NotNil(t, guess)
		assert.Equal(t, "Router firmware", guess.OS)
		assert.InDelta(t, 0.75, guess.Confidence, 0.001)

		assert.Nil(t, GuessOS([]int{80, 443}, "Unknown Vendor"))
		assert.Nil(t, GuessOS([]int{80, 443, 8080, 8443}, "TP-Link Technologies"))
	})

	t.Run("vendor fallbacks", func(t *testing.T) {
		guess := GuessOS(nil, "Apple, Inc.")
		require.NotNil(t, guess)
		assert.Equal(t, "macOS/iOS", guess.OS)
		assert.InDelta(t, 0.40, guess.Confidence, 0.001)

		for _, vendor := range []string{"Samsung Electronics", "OnePlus Technology", "Xiaomi Communications", "Huawei Technologies"} {
			guess := GuessOS(nil, vendor)
			require.NotNil(t, guess, vendor)
			assert.Equal(t, "Android", guess.OS)
			assert.InDelta(t, 0.50, guess.Confidence, 0.001)
		}

		guess = GuessOS(nil, "Microsoft Corporation")
		require.NotNil(t, guess)
		assert.Equal(t, "Windows", guess.OS)
		assert.InDelta(t, 0.45, guess.Confidence, 0.001)

		guess = GuessOS(nil, "Raspberry Pi Foundation")
		require.NotNil(t, guess)
		assert.Equal(t, "Linux", guess.OS)
		assert.InDelta(t, 0.70, guess.Confidence, 0.001)
	})

	t.Run("no signal", func(t *testing.T) {
		assert.Nil(t, GuessOS(nil, ""))
		assert.Nil(t, GuessOS([]int{12345}, "Obscure Corp"))
	})

	t.Run("port rules win over vendor", func(t *testing.T) {
		guess := GuessOS([]int{62078}, "Samsung Electronics")
		require.NotNil(t, guess)
		assert.Equal(t, "iOS", guess.OS)
	})
}

func TestClassifyDevice(t *testing.T) {
	t.Run("gateway is always router", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeRouter, ClassifyDevice(nil, "", "", true))
		assert.Equal(t, db.DeviceTypeRouter, ClassifyDevice([]int{9100}, "HP", "", true))
	})

	t.Run("printer ports", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypePrinter, ClassifyDevice([]int{9100, 80}, "HP Inc", "", false))
		assert.Equal(t, db.DeviceTypePrinter, ClassifyDevice([]int{631}, "", "", false))
	})

	t.Run("phone via os guess", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypePhone, ClassifyDevice(nil, "", "iOS", false))
		assert.Equal(t, db.DeviceTypePhone, ClassifyDevice(nil, "", "Android", false))
		assert.Equal(t, db.DeviceTypePhone, ClassifyDevice(nil, "Apple, Inc.", "macOS/iOS", false))
	})

	t.Run("phone via lockdownd port", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypePhone, ClassifyDevice([]int{62078}, "Apple", "", false))
	})

	t.Run("media vendor with few ports", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeMedia, ClassifyDevice([]int{80}, "Sonos, Inc.", "", false))
		assert.Equal(t, db.DeviceTypeMedia, ClassifyDevice([]int{8008, 8009}, "Google, Inc.", "", false))
		// Too many ports leans away from a streaming stick
		assert.NotEqual(t, db.DeviceTypeMedia, ClassifyDevice([]int{80, 443, 8008, 8009, 8443, 9000}, "Google, Inc.", "", false))
	})

	t.Run("iot vendors", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeIoT, ClassifyDevice(nil, "Espressif Inc.", "", false))
		assert.Equal(t, db.DeviceTypeIoT, ClassifyDevice([]int{80}, "Shenzhen Tuya Technology", "", false))
	})

	t.Run("router vendor with web admin", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeRouter, ClassifyDevice([]int{443}, "Netgear", "", false))
		assert.Equal(t, db.DeviceTypeUnknown, ClassifyDevice([]int{53}, "Netgear", "", false))
	})

	t.Run("computer via ports", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice([]int{22}, "", "", false))
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice([]int{3389}, "", "", false))
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice([]int{548}, "", "", false))
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice([]int{445}, "", "", false))
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice([]int{8000, 8001, 8002, 8003, 8004}, "", "", false))
	})

	t.Run("computer via os substring", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice(nil, "", "Windows", false))
		assert.Equal(t, db.DeviceTypeComputer, ClassifyDevice(nil, "", "Linux", false))
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, db.DeviceTypeUnknown, ClassifyDevice(nil, "", "", false))
		assert.Equal(t, db.DeviceTypeUnknown, ClassifyDevice([]int{12345}, "Obscure Corp", "", false))
	})
}
