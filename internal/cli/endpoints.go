package cli

import (
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/binarymachines/mercury/pkg/compression"
	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
)

// connector types by file extension
var fileTypes = map[string]string{
	".csv":    "csv",
	".tsv":    "tsv",
	".tab":    "tsv",
	".json":   "json",
	".jsonl":  "json",
	".ndjson": "json",
	".avro":   "avro",
	".xlsx":   "excel",
	".xlsm":   "excel",
}

// formatTypes maps a --format value to a connector type.
var formatTypes = map[string]string{
	"csv":    "csv",
	"tsv":    "tsv",
	"json":   "json",
	"jsonl":  "json",
	"ndjson": "json",
	"avro":   "avro",
	"excel":  "excel",
	"xlsx":   "excel",
}

// Source describes a file source from a path given on the command line.
// format overrides the type derived from the extension and is required
// for standard input.
func Source(name, location, format string) (config.Connector, error) {
	if isObjectURL(location) {
		return config.Connector{}, errors.Newf(errors.ErrorTypeConfig, "%s: object store locations can only be written", location)
	}
	typ, err := fileType(location, format)
	if err != nil {
		return config.Connector{}, err
	}
	return config.Connector{Name: name, Type: typ, Settings: config.Settings{"path": location}}, nil
}

// Sink describes a file or object store sink. gs://bucket/prefix and
// s3://bucket/prefix select the object store sinks, which take csv or
// jsonl; anything else is a local path or - for standard output.
func Sink(name, location, format string) (config.Connector, error) {
	if isObjectURL(location) {
		return objectSink(name, location, format)
	}
	typ, err := fileType(location, format)
	if err != nil {
		return config.Connector{}, err
	}
	if typ == "excel" {
		return config.Connector{}, errors.New(errors.ErrorTypeConfig, "spreadsheets can only be read")
	}
	return config.Connector{Name: name, Type: typ, Settings: config.Settings{"path": location}}, nil
}

func isObjectURL(location string) bool {
	return strings.HasPrefix(location, "gs://") || strings.HasPrefix(location, "s3://")
}

func objectSink(name, location, format string) (config.Connector, error) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return config.Connector{}, errors.Newf(errors.ErrorTypeConfig, "invalid object store location %q", location)
	}
	typ := "gcs"
	if u.Scheme == "s3" {
		typ = "s3"
	}
	if format == "" {
		format = "jsonl"
	}
	switch format {
	case "csv", "jsonl":
	case "json", "ndjson":
		format = "jsonl"
	default:
		return config.Connector{}, errors.Newf(errors.ErrorTypeConfig, "object store sinks write csv or jsonl, not %s", format)
	}
	return config.Connector{Name: name, Type: typ, Settings: config.Settings{
		"bucket": u.Host,
		"prefix": strings.Trim(u.Path, "/"),
		"format": format,
	}}, nil
}

func fileType(location, format string) (string, error) {
	if format != "" {
		typ, ok := formatTypes[strings.ToLower(format)]
		if !ok {
			return "", errors.Newf(errors.ErrorTypeConfig, "unknown format %q", format)
		}
		return typ, nil
	}
	if location == base.StdioPath || location == "" {
		return "", errors.New(errors.ErrorTypeConfig, "standard input and output need --format")
	}
	_, stripped := compression.FromPath(location)
	ext := strings.ToLower(filepath.Ext(stripped))
	typ, ok := fileTypes[ext]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeConfig, "cannot tell the format of %s from its extension; use --format", location)
	}
	return typ, nil
}

// MapStage returns a map stage reading its rules from a mapping file.
func MapStage(mappingFile, onError string) config.Stage {
	return config.Stage{Name: "map", Type: "map", OnError: onError, MappingFile: mappingFile}
}

// Require returns a configuration error naming the flag when value is
// empty. Tools check their own flags this way so that --config can stand
// in for them.
func Require(flags map[string]string) error {
	var missing []string
	for name, v := range flags {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.Newf(errors.ErrorTypeConfig, "required flag(s) %s not set", strings.Join(missing, ", "))
}
