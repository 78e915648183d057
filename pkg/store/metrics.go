package store

import (
	"io/fs"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics is a compact view of pebble internals exported to
// prometheus. Fields are best-effort: zero when the underlying metric is
// unavailable.
type StoreMetrics struct {
	DiskBytes         uint64
	WALBytes          uint64
	L0Files           int
	CompactionBacklog uint64
}

// Metrics returns best-effort metrics about the pebble DB. Disk usage is
// computed from the on-disk directory; the remaining fields are pulled
// from pebble.Metrics by field name so a pebble upgrade cannot break the
// build, only zero a reading.
func (p *Pebble) Metrics() StoreMetrics {
	var m StoreMetrics
	if p == nil || p.db == nil {
		return m
	}
	if p.path != "" {
		var total uint64
		_ = filepath.WalkDir(p.path, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				total += uint64(fi.Size())
			}
			return nil
		})
		m.DiskBytes = total
	}
	if pm := p.db.Metrics(); pm != nil {
		flat := make(map[string]float64)
		flattenStruct("", reflect.ValueOf(pm), flat)
		if v := findMetric(flat, `(?i)wal.*(size|bytes)`); v > 0 {
			m.WALBytes = uint64(v)
		}
		if v := findMetric(flat, `(?i)l0.*files|(?i)level0.*files`); v > 0 {
			m.L0Files = int(v)
		}
		if v := findMetric(flat, `(?i)compact.*(backlog|debt)`); v > 0 {
			m.CompactionBacklog = uint64(v)
		}
	}
	return m
}

var registerMetricsOnce sync.Once

// RegisterMetrics exposes store gauges for p on the default prometheus
// registry. Call once from the composition root.
func RegisterMetrics(p *Pebble) {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "upsync_store_disk_bytes",
				Help: "On-disk size of the snapshot store directory.",
			},
			func() float64 { return float64(p.Metrics().DiskBytes) },
		))
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "upsync_store_wal_bytes",
				Help: "Size of the pebble write-ahead log.",
			},
			func() float64 { return float64(p.Metrics().WALBytes) },
		))
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "upsync_store_compaction_backlog_bytes",
				Help: "Estimated pebble compaction debt.",
			},
			func() float64 { return float64(p.Metrics().CompactionBacklog) },
		))
	})
}

func findMetric(flat map[string]float64, pattern string) float64 {
	re := regexp.MustCompile(pattern)
	for k, v := range flat {
		if re.MatchString(k) {
			return v
		}
		if re.MatchString(strings.ReplaceAll(k, ".", "_")) {
			return v
		}
	}
	return 0
}

// flattenStruct walks a reflect.Value of a struct or pointer and fills
// out with numeric fields keyed by dotted path.
func flattenStruct(prefix string, v reflect.Value, out map[string]float64) {
	if !v.IsValid() {
		return
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		name := t.Field(i).Name
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		fv := f
		for fv.Kind() == reflect.Interface {
			if fv.IsNil() {
				fv = reflect.Value{}
				break
			}
			fv = fv.Elem()
		}
		switch fv.Kind() {
		case reflect.Struct:
			flattenStruct(key, fv, out)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[key] = float64(fv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out[key] = float64(fv.Uint())
		case reflect.Float32, reflect.Float64:
			out[key] = fv.Float()
		default:
			// ignore other kinds
		}
	}
}
