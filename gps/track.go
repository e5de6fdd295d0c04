package gps

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	geo "github.com/paulmach/go.geo"
)

var (
	// ErrEmptyTrack is returned when a track file yields no usable fixes.
	ErrEmptyTrack = errors.New("gps: track contains no fixes")
	// ErrMissingColumns is returned when the CSV header lacks position columns.
	ErrMissingColumns = errors.New("gps: header missing lat/lon columns")
)

// Fix is a single recorded GPS sample. Millis is the original absolute
// GPS timestamp in epoch milliseconds.
type Fix struct {
	Millis int64
	Lat    float64
	Lon    float64
	Alt    float64 // meters above mean sea level
	Climb  float64 // meters per second, positive up
	VN     float64 // north velocity, m/s
	VE     float64 // east velocity, m/s
}

// GroundSpeed returns horizontal speed in m/s.
func (f Fix) GroundSpeed() float64 {
	return math.Hypot(f.VN, f.VE)
}

// Track is an ordered sequence of fixes. Fixes are sorted by Millis.
type Track struct {
	Fixes []Fix
}

// StartTime returns the first fix timestamp, or 0 for an empty track.
func (t *Track) StartTime() int64 {
	if len(t.Fixes) == 0 {
		return 0
	}
	return t.Fixes[0].Millis
}

// EndTime returns the last fix timestamp, or 0 for an empty track.
func (t *Track) EndTime() int64 {
	if len(t.Fixes) == 0 {
		return 0
	}
	return t.Fixes[len(t.Fixes)-1].Millis
}

// Duration returns the span between first and last fix in milliseconds.
func (t *Track) Duration() int64 {
	return t.EndTime() - t.StartTime()
}

// FindIndex returns the index of the fix at or just before the given
// GPS timestamp. Returns 0 if the timestamp precedes the track.
func (t *Track) FindIndex(gpsTimeMs int64) int {
	n := len(t.Fixes)
	if n == 0 {
		return 0
	}
	// First index whose fix is strictly after the target.
	i := sort.Search(n, func(i int) bool {
		return t.Fixes[i].Millis > gpsTimeMs
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// Stats summarizes a track for display and sanity checks.
type Stats struct {
	Fixes      int
	DurationMs int64
	DistanceM  float64 // total ground distance
	MaxSpeedMS float64 // max horizontal speed
}

// Stats walks the track accumulating haversine ground distance and the
// peak horizontal speed.
func (t *Track) Stats() Stats {
	s := Stats{Fixes: len(t.Fixes), DurationMs: t.Duration()}
	var prev *geo.Point
	for i := range t.Fixes {
		f := &t.Fixes[i]
		p := geo.NewPoint(f.Lon, f.Lat)
		if prev != nil {
			s.DistanceM += prev.GeoDistanceFrom(p, true)
		}
		prev = p
		if v := f.GroundSpeed(); v > s.MaxSpeedMS {
			s.MaxSpeedMS = v
		}
	}
	return s
}

// ReadTrack loads a track from a CSV file. Files ending in .gz are
// decompressed transparently.
func ReadTrack(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gps: open track %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gps: gunzip track %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	t, err := ParseTrack(r)
	if err != nil {
		return nil, fmt.Errorf("gps: parse track %s: %w", path, err)
	}
	return t, nil
}

// headerIndex maps column names to positions, folding known aliases
// onto their FlySight names.
type headerIndex map[string]int

var columnAliases = map[string]string{
	"timeMillis":   "millis",
	"latitude":     "lat",
	"longitude":    "lon",
	"altitude_gps": "hMSL",
}

func parseHeader(line string) headerIndex {
	h := headerIndex{}
	for i, name := range strings.Split(line, ",") {
		name = strings.TrimSpace(name)
		if canonical, ok := columnAliases[name]; ok {
			name = canonical
		}
		h[name] = i
	}
	return h
}

func (h headerIndex) float(row []string, name string) float64 {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (h headerIndex) integer(row []string, name string) int64 {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(row[i]), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (h headerIndex) text(row []string, name string) (string, bool) {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

// timestamp parses the "time" column, which FlySight writes as an
// ISO-8601 UTC string. Returns epoch milliseconds, or 0 if absent.
func (h headerIndex) timestamp(row []string) int64 {
	s, ok := h.text(row, "time")
	if !ok || s == "" {
		return 0
	}
	for _, layout := range []string{"2006-01-02T15:04:05.00Z", time.RFC3339Nano} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UnixMilli()
		}
	}
	return 0
}

// ParseTrack reads CSV track data. Two row formats are supported:
// FlySight rows (time,lat,lon,hMSL,velN,velE,velD,...) and BASEline
// sensor logs, where a "sensor" column tags each row and only "gps"
// rows carry a position. Rows without a finite lat/lon are dropped.
func ParseTrack(r io.Reader) (*Track, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, ErrEmptyTrack
	}
	header := parseHeader(sc.Text())
	if _, ok := header["lat"]; !ok {
		return nil, ErrMissingColumns
	}
	if _, ok := header["lon"]; !ok {
		return nil, ErrMissingColumns
	}
	_, tagged := header["sensor"]

	var fixes []Fix
	var lastAlt float64
	var lastMillis int64 = -1
	for sc.Scan() {
		row := strings.Split(sc.Text(), ",")

		var millis int64
		if tagged {
			sensor, ok := header.text(row, "sensor")
			if ok && sensor != "gps" {
				continue
			}
			millis = header.integer(row, "millis")
		} else {
			millis = header.timestamp(row)
			if millis == 0 {
				millis = header.integer(row, "millis")
			}
		}
		if millis <= 0 {
			continue
		}

		lat := header.float(row, "lat")
		lon := header.float(row, "lon")
		if math.IsNaN(lat) || math.IsNaN(lon) {
			continue
		}
		alt := header.float(row, "hMSL")
		if math.IsNaN(alt) {
			alt = 0
		}

		// Climb comes from velD when recorded, otherwise from the
		// altitude derivative.
		climb := -header.float(row, "velD")
		if math.IsNaN(climb) {
			climb = 0
			if lastMillis >= 0 && millis > lastMillis {
				climb = (alt - lastAlt) / (float64(millis-lastMillis) * 0.001)
			}
		}
		vN := header.float(row, "velN")
		if math.IsNaN(vN) {
			vN = 0
		}
		vE := header.float(row, "velE")
		if math.IsNaN(vE) {
			vE = 0
		}

		fixes = append(fixes, Fix{
			Millis: millis,
			Lat:    lat,
			Lon:    lon,
			Alt:    alt,
			Climb:  climb,
			VN:     vN,
			VE:     vE,
		})
		lastAlt = alt
		lastMillis = millis
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(fixes) == 0 {
		return nil, ErrEmptyTrack
	}
	sort.SliceStable(fixes, func(i, j int) bool {
		return fixes[i].Millis < fixes[j].Millis
	})
	return &Track{Fixes: fixes}, nil
}
