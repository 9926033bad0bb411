package prescriptions

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

func TestSearchNote(t *testing.T) {
	note, err := SearchNote("  Amoxicillin ", "")
	require.NoError(t, err)
	assert.Equal(t, "Search Request: Amoxicillin", note)

	note, err = SearchNote("Amoxicillin", "500MG")
	require.NoError(t, err)
	assert.Equal(t, "Search Request: Amoxicillin (500mg)", note)

	_, err = SearchNote(" ", "500mg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = SearchNote("Amoxicillin", "7mg")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestDetectImage(t *testing.T) {
	ct, ext, err := detectImage(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, ".png", ext)

	_, _, err = detectImage([]byte("#!/bin/sh\necho hi\n"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, _, err = detectImage(nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestObjectKeyIsScopedToUser(t *testing.T) {
	user := uuid.New()
	key := objectKey(user, ".png")
	assert.Regexp(t, "^prescriptions/"+user.String()+"/[0-9a-f-]{36}\\.png$", key)
}
