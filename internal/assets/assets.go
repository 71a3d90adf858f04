// Package assets loads meshes, textures and shader bytecode from disk.
package assets

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	TexCoord mgl32.Vec2
	Color    mgl32.Vec3
}

type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// LoadOBJ reads an OBJ file. A .mtl file next to it is used when present.
func LoadOBJ(path string) (*Mesh, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "assets: open mesh")
	}
	defer meshFile.Close()

	var matFile io.Reader = strings.NewReader("")
	mtlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".mtl"
	if f, err := os.Open(mtlPath); err == nil {
		defer f.Close()
		matFile = f
	}

	mesh, err := DecodeOBJ(meshFile, matFile)
	return mesh, errors.Wrapf(err, "assets: %s", path)
}

type vertexKey struct {
	position, uv, normal int
}

// DecodeOBJ triangulates every face of every object into an indexed mesh.
// Vertices sharing position, uv and normal are emitted once.
func DecodeOBJ(meshReader, matReader io.Reader) (*Mesh, error) {
	decoder, err := obj.DecodeReader(meshReader, matReader)
	if err != nil {
		return nil, errors.Wrap(err, "decode obj")
	}

	mesh := &Mesh{}
	unique := make(map[vertexKey]uint32)
	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				mesh.add(decoder, unique, face, 0)
				mesh.add(decoder, unique, face, i-1)
				mesh.add(decoder, unique, face, i)
			}
		}
	}
	if len(mesh.Indices) == 0 {
		return nil, errors.New("mesh has no faces")
	}
	return mesh, nil
}

func (m *Mesh) add(decoder *obj.Decoder, unique map[vertexKey]uint32, face obj.Face, corner int) {
	key := vertexKey{position: face.Vertices[corner], uv: -1, normal: -1}
	if corner < len(face.Uvs) && validIndex(face.Uvs[corner], 2, len(decoder.Uvs)) {
		key.uv = face.Uvs[corner]
	}
	if corner < len(face.Normals) && validIndex(face.Normals[corner], 3, len(decoder.Normals)) {
		key.normal = face.Normals[corner]
	}

	index, ok := unique[key]
	if !ok {
		vert := Vertex{
			Position: mgl32.Vec3{
				decoder.Vertices[key.position*3],
				decoder.Vertices[key.position*3+1],
				decoder.Vertices[key.position*3+2],
			},
			Normal: mgl32.Vec3{0, 0, 1},
			Color:  mgl32.Vec3{1, 1, 1},
		}
		if key.uv >= 0 {
			vert.TexCoord = mgl32.Vec2{
				decoder.Uvs[key.uv*2],
				1.0 - decoder.Uvs[key.uv*2+1],
			}
		}
		if key.normal >= 0 {
			vert.Normal = mgl32.Vec3{
				decoder.Normals[key.normal*3],
				decoder.Normals[key.normal*3+1],
				decoder.Normals[key.normal*3+2],
			}
		}

		index = uint32(len(m.Vertices))
		m.Vertices = append(m.Vertices, vert)
		unique[key] = index
	}
	m.Indices = append(m.Indices, index)
}

func validIndex(i, stride, n int) bool {
	return i >= 0 && i*stride+stride <= n
}

// LoadImage decodes a PNG into tightly packed RGBA pixels.
func LoadImage(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "assets: read image")
	}
	img, err := DecodeImage(data)
	return img, errors.Wrapf(err, "assets: %s", path)
}

func DecodeImage(data []byte) (*image.RGBA, error) {
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode png")
	}
	if rgba, ok := decoded.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba, nil
	}

	bounds := decoded.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Rect, decoded, bounds.Min, draw.Src)
	return rgba, nil
}

// ShaderHint is attached to the error for a missing SPIR-V module. Only the
// GLSL sources are checked in.
const ShaderHint = "compile the shaders with: go generate ./cmd/vulkanscene (needs glslc)"

// LoadShader reads a SPIR-V module.
func LoadShader(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.WithHint(errors.Wrap(err, "assets: read shader"), ShaderHint)
	}
	if err != nil {
		return nil, errors.Wrap(err, "assets: read shader")
	}
	code, err := Bytecode(data)
	return code, errors.Wrapf(err, "assets: %s", path)
}

const spirvMagic = 0x07230203

// Bytecode converts little endian SPIR-V bytes to words.
func Bytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("spir-v size %d is not a positive multiple of 4", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	if byteCode[0] != spirvMagic {
		return nil, errors.Newf("bad spir-v magic %#08x", byteCode[0])
	}
	return byteCode, nil
}
