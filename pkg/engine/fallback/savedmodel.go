package fallback

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
)

const savedModelFilename = "saved_model.pb"

// Field numbers of the SavedModel protobuf family.
const (
	savedModelSchemaVersion protowire.Number = 1
	savedModelMetaGraphs    protowire.Number = 2

	metaGraphInfo     protowire.Number = 1
	metaGraphGraphDef protowire.Number = 2

	metaInfoTags              protowire.Number = 4
	metaInfoTensorflowVersion protowire.Number = 5
)

// readSavedModel returns the GraphDef of the first meta graph in exportDir
// that carries every tag in tags.
func readSavedModel(exportDir string, tags []string) ([]byte, error) {
	p := filepath.Join(exportDir, savedModelFilename)
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "Could not find SavedModel .pb at supplied export directory path: %s", exportDir)
		}
		return nil, status.Errorf(codes.Internal, "reading %s: %v", p, err)
	}

	var found []byte
	var available [][]string
	err = walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != savedModelMetaGraphs || typ != protowire.BytesType || found != nil {
			return nil
		}
		metaTags, graphDef, err := unmarshalMetaGraph(v)
		if err != nil {
			return err
		}
		available = append(available, metaTags)
		if containsAll(metaTags, tags) {
			found = graphDef
			if found == nil {
				found = []byte{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		var sets []string
		for _, a := range available {
			sets = append(sets, "{ "+strings.Join(a, " ")+" }")
		}
		return nil, status.Errorf(codes.NotFound, "Could not find meta graph def matching supplied tags: { %s }. Available tag sets: %s", strings.Join(tags, " "), strings.Join(sets, ", "))
	}
	return found, nil
}

func unmarshalMetaGraph(b []byte) (tags []string, graphDef []byte, err error) {
	err = walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case metaGraphInfo:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if num == metaInfoTags && typ == protowire.BytesType {
					tags = append(tags, string(v))
				}
				return nil
			})
		case metaGraphGraphDef:
			graphDef = v
		}
		return nil
	})
	return tags, graphDef, err
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// WriteSavedModel writes graphDef as a single meta graph carrying tags, in
// the directory layout LoadSessionFromSavedModel reads.
func WriteSavedModel(exportDir string, graphDef []byte, tags []string) error {
	if _, err := unmarshalGraphDef(graphDef); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(exportDir, "variables"), 0755); err != nil {
		return status.Errorf(codes.Internal, "creating %s: %v", exportDir, err)
	}

	var info []byte
	for _, tag := range tags {
		info = appendString(info, metaInfoTags, tag)
	}
	info = appendString(info, metaInfoTensorflowVersion, version)

	var meta []byte
	meta = protowire.AppendTag(meta, metaGraphInfo, protowire.BytesType)
	meta = protowire.AppendBytes(meta, info)
	meta = protowire.AppendTag(meta, metaGraphGraphDef, protowire.BytesType)
	meta = protowire.AppendBytes(meta, graphDef)

	var b []byte
	b = protowire.AppendTag(b, savedModelSchemaVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, savedModelMetaGraphs, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)

	p := filepath.Join(exportDir, savedModelFilename)
	if err := os.WriteFile(p, b, 0644); err != nil {
		return status.Errorf(codes.Internal, "writing %s: %v", p, err)
	}
	return nil
}
