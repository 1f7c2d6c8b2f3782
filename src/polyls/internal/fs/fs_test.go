package fs

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp")
	fs := New()
	dir, err := fs.UserCacheDir()
	assert.NoError(t, err)
	assert.NotEmpty(t, dir)
}

func TestMkdirAll(t *testing.T) {
	dir := t.TempDir()
	fs := New()
	err := fs.MkdirAll(path.Join(dir, "foo/bar"))
	assert.NoError(t, err)
}

func TestDirExists(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		dir := t.TempDir()
		fs := New()
		result, err := fs.DirExists(dir)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("does not exist", func(t *testing.T) {
		dir := t.TempDir()
		fs := New()
		result, err := fs.DirExists(dir + "foo")
		assert.NoError(t, err)
		assert.False(t, result)
	})
}

func TestFileExists(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		dir := t.TempDir()
		file := path.Join(dir, "a")
		os.WriteFile(file, []byte("contents"), 0666)
		fs := New()
		result, err := fs.FileExists(file)
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("directory is not a file", func(t *testing.T) {
		dir := t.TempDir()
		fs := New()
		result, err := fs.FileExists(dir)
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("does not exist", func(t *testing.T) {
		fs := New()
		result, err := fs.FileExists(path.Join(t.TempDir(), "missing"))
		assert.NoError(t, err)
		assert.False(t, result)
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "a")
	os.WriteFile(file, []byte("contents"), 0666)
	fs := New()
	result, err := fs.Open(file)
	require.NoError(t, err)
	defer result.Close()
	assert.Equal(t, "a", path.Base(result.Name()))
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(path.Join(dir, "a"), []byte("a"), 0666)
	os.WriteFile(path.Join(dir, "b"), []byte("b"), 0666)
	fs := New()
	result, err := fs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, result, 2)
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "a")
	fs := New()
	require.NoError(t, fs.WriteFile(file, []byte("data")))
	result, err := fs.ReadFile(file)
	assert.NoError(t, err)
	assert.Equal(t, "data", string(result))
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "a")
	fs := New()
	result, err := fs.Create(file)
	require.NoError(t, err)
	defer result.Close()
	assert.Equal(t, "a", path.Base(result.Name()))
}

func TestChmod(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "bin")
	os.WriteFile(file, []byte("#!/bin/sh\n"), 0644)
	fs := New()
	require.NoError(t, fs.Chmod(file, 0755))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "a")
	os.WriteFile(file, []byte("contents"), 0666)
	fs := New()
	assert.NoError(t, fs.Remove(file))
}

func TestRemoveAll(t *testing.T) {
	dir := t.TempDir()
	sub := path.Join(dir, "x/y")
	os.MkdirAll(sub, 0755)
	os.WriteFile(path.Join(sub, "a"), []byte("a"), 0666)
	fs := New()
	assert.NoError(t, fs.RemoveAll(path.Join(dir, "x")))
	_, err := os.Stat(sub)
	assert.True(t, os.IsNotExist(err))
}
