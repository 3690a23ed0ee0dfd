//go:build unix

package erspan

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultEncapsulator is used when the document does not name an extension.
	DefaultEncapsulator = "proto_erspan_type3"

	keyExtName     = "ext_name"
	keyExtFilePath = "ext_file_path"
	keyExtParams   = "ext_params"
)

// Document is a parsed extension configuration document.
//
//	{
//	    "ext_file_path": "libproto_erspan_type3.so",
//	    "ext_params": {
//	        "remoteips": ["10.1.1.37"],
//	        "enable_sequence": true,
//	        "sequence_begin": 10000
//	    }
//	}
type Document struct {
	Name   string
	Params map[string]interface{}
}

// ParseDocument reads a JSON configuration document.
func ParseDocument(raw []byte) (*Document, error) {
	v := viper.New()
	v.SetConfigType("json")
	if len(bytes.TrimSpace(raw)) == 0 {
		return newDocument(v)
	}
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, configError("Fail to parse configuration document: %v", err)
	}
	return newDocument(v)
}

// LoadDocument reads a configuration document file. The format (json, yaml, toml) follows the file extension.
func LoadDocument(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, configError("Fail to load configuration document %s: %v", path, err)
	}
	return newDocument(v)
}

func newDocument(v *viper.Viper) (*Document, error) {
	doc := Document{
		Name:   DefaultEncapsulator,
		Params: map[string]interface{}{},
	}

	if name := v.GetString(keyExtName); name != "" {
		doc.Name = name
	} else if path := v.GetString(keyExtFilePath); path != "" {
		doc.Name = extensionName(path)
	}

	if v.IsSet(keyExtParams) {
		params, ok := v.Get(keyExtParams).(map[string]interface{})
		if !ok {
			return nil, configError("%s must be an object", keyExtParams)
		}
		doc.Params = params
	}

	return &doc, nil
}

// extensionName turns "/opt/ext/libproto_erspan_type3.so" into "proto_erspan_type3".
func extensionName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimPrefix(name, "lib")
}
