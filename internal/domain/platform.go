package domain

import (
	"slices"
	"strings"
)

// Family groups platforms that share a readiness rule and input selection.
type Family int

const (
	FamilyGeostationary Family = iota + 1
	FamilyPolarDataset
	FamilyPolarMultiSensor
	FamilyPolarCollection
)

func (f Family) String() string {
	switch f {
	case FamilyGeostationary:
		return "geostationary"
	case FamilyPolarDataset:
		return "polar-dataset"
	case FamilyPolarMultiSensor:
		return "polar-multisensor"
	case FamilyPolarCollection:
		return "polar-collection"
	}
	return "unknown"
}

// Rules decides when a platform's accumulated files form a complete scene
// and which of them is handed to the processing program.
type Rules interface {
	// Tag returns the role markers carried by a file.
	Tag(f FileDescriptor) []Tag
	// Ready reports whether files complete a scene. n is the notification
	// that delivered the most recent file.
	Ready(files []FileDescriptor, n Notification) bool
	// SelectInput picks the canonical input path among the files.
	SelectInput(files []FileDescriptor) (string, bool)
}

// Platform describes how one satellite is processed.
type Platform struct {
	Name string
	// Code is the short platform name used in level-1 file names.
	Code string
	// LetterCode is the name used in result and time-control files. It
	// differs from Code only for Metop.
	LetterCode string
	Family     Family
	Sensors    []string
	RequiredMW []string
	// InputFlag is the processing program flag carrying the input path.
	InputFlag string
	Rules     Rules
}

// Processes reports whether files from sensor are part of this platform's
// scenes.
func (p Platform) Processes(sensor string) bool {
	return slices.Contains(p.Sensors, sensor)
}

// microwaveSensors lists sensors whose level 1 data must be level 1C.
var microwaveSensors = []string{"amsu-a", "amsu-b", "mhs"}

// IsMicrowave reports whether sensor is a microwave sounder.
func IsMicrowave(sensor string) bool {
	return slices.Contains(microwaveSensors, sensor)
}

// RegistryOptions tunes the platform table.
type RegistryOptions struct {
	// GranuleProcessing makes JPSS platforms accumulate granule datasets
	// instead of receiving a pre-aggregated collection.
	GranuleProcessing bool
	// EARSVariant is the stream variant for which Metop and NOAA scenes need
	// only the AVHRR file. Empty disables the rule.
	EARSVariant string
}

// Registry is the immutable table of supported platforms.
type Registry struct {
	platforms map[string]Platform
}

// NewRegistry builds the platform table.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{platforms: make(map[string]Platform)}

	hrpt := func(name, code, letter string, sensors, mw []string) Platform {
		return Platform{
			Name: name, Code: code, LetterCode: letter,
			Family:     FamilyPolarMultiSensor,
			Sensors:    sensors,
			RequiredMW: mw,
			InputFlag:  "--hrptfile",
			Rules:      multiSensorRules{required: len(mw), earsVariant: opts.EARSVariant, marker: "hrpt_"},
		}
	}
	r.add(hrpt("NOAA-15", "noaa15", "noaa15", []string{"avhrr/3", "amsu-a", "amsu-b"}, []string{"amsu-a", "amsu-b"}))
	r.add(hrpt("NOAA-18", "noaa18", "noaa18", []string{"avhrr/3"}, nil))
	r.add(hrpt("NOAA-19", "noaa19", "noaa19", []string{"avhrr/3", "amsu-a", "mhs"}, []string{"amsu-a", "mhs"}))
	r.add(hrpt("Metop-A", "metop02", "metopa", []string{"avhrr/3", "amsu-a", "mhs"}, []string{"amsu-a", "mhs"}))
	r.add(hrpt("Metop-B", "metop01", "metopb", []string{"avhrr/3", "amsu-a", "mhs"}, []string{"amsu-a", "mhs"}))
	r.add(hrpt("Metop-C", "metop03", "metopc", []string{"avhrr/3", "amsu-a", "mhs"}, []string{"amsu-a", "mhs"}))

	modis := datasetRules{
		geoPrefixes:  []string{"MOD03", "MYD03"},
		dataPrefixes: []string{"MOD021km", "MYD021km"},
		marker:       "021km",
	}
	for _, p := range [][2]string{{"EOS-Terra", "eos1"}, {"EOS-Aqua", "eos2"}} {
		r.add(Platform{
			Name: p[0], Code: p[1], LetterCode: p[1],
			Family:    FamilyPolarDataset,
			Sensors:   []string{"modis"},
			InputFlag: "--modisfile",
			Rules:     modis,
		})
	}

	jpssFamily := FamilyPolarCollection
	var jpssRules Rules = collectionRules{marker: "SVM01"}
	if opts.GranuleProcessing {
		jpssFamily = FamilyPolarDataset
		jpssRules = datasetRules{
			geoPrefixes:  []string{"GMTCO", "GMODO"},
			dataPrefixes: []string{"SVM01"},
			marker:       "SVM01",
		}
	}
	for _, p := range [][2]string{{"Suomi-NPP", "npp"}, {"NOAA-20", "noaa20"}, {"NOAA-21", "noaa21"}} {
		r.add(Platform{
			Name: p[0], Code: p[1], LetterCode: p[1],
			Family:    jpssFamily,
			Sensors:   []string{"viirs"},
			InputFlag: "--csppfile",
			Rules:     jpssRules,
		})
	}

	for _, n := range []string{"09", "10", "11"} {
		r.add(Platform{
			Name: "Meteosat-" + n, Code: "meteosat" + n, LetterCode: "meteosat" + n,
			Family:    FamilyGeostationary,
			Sensors:   []string{"seviri"},
			InputFlag: "-af",
			Rules:     geostationaryRules{marker: "NWC"},
		})
	}
	return r
}

func (r *Registry) add(p Platform) {
	r.platforms[p.Name] = p
}

// Lookup returns the platform registered under name.
func (r *Registry) Lookup(name string) (Platform, bool) {
	p, ok := r.platforms[name]
	return p, ok
}

// Names returns the supported platform names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.platforms))
	for n := range r.platforms {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// geostationaryRules complete a scene once both the prologue and epilogue
// segment files of a scan have arrived.
type geostationaryRules struct {
	marker string
}

func (geostationaryRules) Tag(f FileDescriptor) []Tag {
	base := f.Base()
	switch {
	case strings.Contains(base, "-PRO"):
		return []Tag{TagPRO}
	case strings.Contains(base, "-EPI"):
		return []Tag{TagEPI}
	}
	return nil
}

func (geostationaryRules) Ready(files []FileDescriptor, _ Notification) bool {
	return anyTagged(files, TagPRO) && anyTagged(files, TagEPI)
}

func (g geostationaryRules) SelectInput(files []FileDescriptor) (string, bool) {
	if p, ok := firstContaining(files, g.marker); ok {
		return p, true
	}
	for _, f := range files {
		if f.HasTag(TagPRO) {
			return f.Path, true
		}
	}
	return "", false
}

// datasetRules complete a scene as soon as the dataset has files, and when
// geolocation and data prefixes are known, once both halves are present.
type datasetRules struct {
	geoPrefixes  []string
	dataPrefixes []string
	marker       string
}

func (d datasetRules) Tag(f FileDescriptor) []Tag {
	base := f.Base()
	switch {
	case hasAnyPrefix(base, d.geoPrefixes):
		return []Tag{TagGeo}
	case hasAnyPrefix(base, d.dataPrefixes):
		return []Tag{TagData}
	}
	return nil
}

func (d datasetRules) Ready(files []FileDescriptor, _ Notification) bool {
	if len(files) == 0 {
		return false
	}
	if len(d.geoPrefixes) == 0 && len(d.dataPrefixes) == 0 {
		return true
	}
	return anyTagged(files, TagGeo) && anyTagged(files, TagData)
}

func (d datasetRules) SelectInput(files []FileDescriptor) (string, bool) {
	if p, ok := firstContaining(files, d.marker); ok {
		return p, true
	}
	for _, f := range files {
		if f.HasTag(TagData) {
			return f.Path, true
		}
	}
	return "", false
}

// multiSensorRules wait for the imager file plus one file per required
// microwave sensor.
type multiSensorRules struct {
	required    int
	earsVariant string
	marker      string
}

func (multiSensorRules) Tag(FileDescriptor) []Tag { return nil }

func (m multiSensorRules) Ready(files []FileDescriptor, n Notification) bool {
	needed := m.required + 1
	if m.earsVariant != "" && n.Variant == m.earsVariant {
		needed = 1
	}
	return len(files) >= needed
}

func (m multiSensorRules) SelectInput(files []FileDescriptor) (string, bool) {
	if p, ok := firstContaining(files, m.marker); ok {
		return p, true
	}
	if len(files) > 0 {
		return files[0].Path, true
	}
	return "", false
}

// collectionRules accept a pre-aggregated collection as a complete scene.
type collectionRules struct {
	marker string
}

func (collectionRules) Tag(FileDescriptor) []Tag { return nil }

func (collectionRules) Ready(files []FileDescriptor, _ Notification) bool {
	return len(files) > 0
}

func (c collectionRules) SelectInput(files []FileDescriptor) (string, bool) {
	if p, ok := firstContaining(files, c.marker); ok {
		return p, true
	}
	if len(files) > 0 {
		return files[0].Path, true
	}
	return "", false
}

func anyTagged(files []FileDescriptor, t Tag) bool {
	for _, f := range files {
		if f.HasTag(t) {
			return true
		}
	}
	return false
}

func firstContaining(files []FileDescriptor, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	for _, f := range files {
		if strings.Contains(f.Base(), marker) {
			return f.Path, true
		}
	}
	return "", false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
