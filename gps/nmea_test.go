package gps

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		expected string
	}{
		{
			name:     "GGA sentence",
			sentence: "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
			expected: "47",
		},
		{
			name:     "RMC sentence",
			sentence: "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
			expected: "6A",
		},
		{
			name:     "single character after $",
			sentence: "$A",
			expected: "41",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checksum(tt.sentence); got != tt.expected {
				t.Errorf("checksum(%q) = %q, want %q", tt.sentence, got, tt.expected)
			}
		})
	}
}

func TestFormatSentence(t *testing.T) {
	got := formatSentence("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	want := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	if got != want {
		t.Errorf("formatSentence = %q, want %q", got, want)
	}
}

func testFix() Fix {
	return Fix{
		Millis: time.Date(2018, 10, 6, 10, 20, 30, 0, time.UTC).UnixMilli(),
		Lat:    46.949,
		Lon:    7.441,
		Alt:    1200.5,
		VN:     10.0,
		VE:     0.0,
	}
}

func verifyChecksum(t *testing.T, sentence string) []string {
	t.Helper()
	if !strings.HasSuffix(sentence, "\r\n") {
		t.Fatalf("sentence %q missing CRLF terminator", sentence)
	}
	body, sum, ok := strings.Cut(strings.TrimSuffix(sentence, "\r\n"), "*")
	if !ok {
		t.Fatalf("sentence %q missing checksum separator", sentence)
	}
	if want := checksum(body); sum != want {
		t.Errorf("checksum = %q, want %q", sum, want)
	}
	return strings.Split(body, ",")
}

func TestGGA(t *testing.T) {
	fields := verifyChecksum(t, GGA(testFix()))

	if fields[0] != "$GPGGA" {
		t.Errorf("sentence type = %q, want $GPGGA", fields[0])
	}
	if fields[1] != "102030" {
		t.Errorf("time field = %q, want 102030", fields[1])
	}
	// 46.949 degrees = 46 degrees 56.94 minutes north
	if fields[2] != "4656.9400" || fields[3] != "N" {
		t.Errorf("latitude = %q %q, want 4656.9400 N", fields[2], fields[3])
	}
	// 7.441 degrees = 7 degrees 26.46 minutes east
	if fields[4] != "00726.4600" || fields[5] != "E" {
		t.Errorf("longitude = %q %q, want 00726.4600 E", fields[4], fields[5])
	}
	if fields[6] != "1" {
		t.Errorf("fix quality = %q, want 1", fields[6])
	}
	if fields[9] != "1200.5" {
		t.Errorf("altitude = %q, want 1200.5", fields[9])
	}
}

func TestRMC(t *testing.T) {
	fields := verifyChecksum(t, RMC(testFix()))

	if fields[0] != "$GPRMC" {
		t.Errorf("sentence type = %q, want $GPRMC", fields[0])
	}
	if fields[1] != "102030" {
		t.Errorf("time field = %q, want 102030", fields[1])
	}
	if fields[2] != "A" {
		t.Errorf("status = %q, want A", fields[2])
	}
	// 10 m/s north = 19.4 knots over ground
	if fields[7] != "19.4" {
		t.Errorf("speed = %q, want 19.4", fields[7])
	}
	if fields[8] != "0.0" {
		t.Errorf("course = %q, want 0.0", fields[8])
	}
	if fields[9] != "061018" {
		t.Errorf("date = %q, want 061018", fields[9])
	}
}

func TestSouthernWesternHemispheres(t *testing.T) {
	f := testFix()
	f.Lat = -33.8688
	f.Lon = -151.2093
	fields := verifyChecksum(t, GGA(f))

	if fields[3] != "S" {
		t.Errorf("latitude hemisphere = %q, want S", fields[3])
	}
	if fields[5] != "W" {
		t.Errorf("longitude hemisphere = %q, want W", fields[5])
	}
}

func TestFixCourse(t *testing.T) {
	tests := []struct {
		name   string
		vN, vE float64
		want   float64
	}{
		{"due north", 1, 0, 0},
		{"due east", 0, 1, 90},
		{"due south", -1, 0, 180},
		{"due west", 0, -1, 270},
		{"northeast", 1, 1, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Fix{VN: tt.vN, VE: tt.vE}
			if got := f.Course(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Course(vN=%f, vE=%f) = %f, want %f", tt.vN, tt.vE, got, tt.want)
			}
		})
	}
}
