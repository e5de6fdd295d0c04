package gps

import (
	"fmt"
	"math"
	"time"
)

// metres per second to knots
const msToKnots = 1.943844

// checksum computes the NMEA checksum for a sentence body (leading '$'
// excluded).
func checksum(sentence string) string {
	var sum byte
	for i := 1; i < len(sentence); i++ {
		sum ^= sentence[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// formatSentence appends the checksum and line terminator.
func formatSentence(sentence string) string {
	return fmt.Sprintf("%s*%s\r\n", sentence, checksum(sentence))
}

// nmeaLatLon converts decimal degrees to the DDMM.MMMM fields NMEA uses.
func nmeaLatLon(lat, lon float64) (latField, latHem, lonField, lonHem string) {
	latDeg := int(math.Abs(lat))
	latMin := (math.Abs(lat) - float64(latDeg)) * 60
	latHem = "N"
	if lat < 0 {
		latHem = "S"
	}

	lonDeg := int(math.Abs(lon))
	lonMin := (math.Abs(lon) - float64(lonDeg)) * 60
	lonHem = "E"
	if lon < 0 {
		lonHem = "W"
	}

	latField = fmt.Sprintf("%02d%07.4f", latDeg, latMin)
	lonField = fmt.Sprintf("%03d%07.4f", lonDeg, lonMin)
	return
}

// Course returns the ground course in degrees [0,360) derived from the
// velocity components.
func (f Fix) Course() float64 {
	course := math.Atan2(f.VE, f.VN) * 180 / math.Pi
	if course < 0 {
		course += 360
	}
	return course
}

// GGA renders the fix as a GPGGA sentence (fix data).
func GGA(f Fix) string {
	ts := time.UnixMilli(f.Millis).UTC().Format("150405")
	latField, latHem, lonField, lonHem := nmeaLatLon(f.Lat, f.Lon)

	quality := "1"
	numSats := "08"
	hdop := "1.2"
	altitude := fmt.Sprintf("%.1f", f.Alt)

	sentence := fmt.Sprintf("$GPGGA,%s,%s,%s,%s,%s,%s,%s,%s,%s,M,0.0,M,,",
		ts,
		latField, latHem,
		lonField, lonHem,
		quality, numSats, hdop,
		altitude)

	return formatSentence(sentence)
}

// RMC renders the fix as a GPRMC sentence (recommended minimum).
func RMC(f Fix) string {
	t := time.UnixMilli(f.Millis).UTC()
	timeStr := t.Format("150405")
	dateStr := t.Format("020106")
	latField, latHem, lonField, lonHem := nmeaLatLon(f.Lat, f.Lon)

	speed := fmt.Sprintf("%.1f", f.GroundSpeed()*msToKnots)
	course := fmt.Sprintf("%.1f", f.Course())

	sentence := fmt.Sprintf("$GPRMC,%s,A,%s,%s,%s,%s,%s,%s,%s,,,A",
		timeStr,
		latField, latHem,
		lonField, lonHem,
		speed, course, dateStr)

	return formatSentence(sentence)
}
