package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBranchAcceptsOrdinaryName(t *testing.T) {
	assert.NoError(t, ValidateBranch("feature/add-login"))
}

func TestValidateBranchRejectsDotDot(t *testing.T) {
	assert.Error(t, ValidateBranch("feature/../escape"))
}

func TestValidateBranchRejectsRefPrefix(t *testing.T) {
	assert.Error(t, ValidateBranch("refs/heads/main"))
}

func TestValidateBranchRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateBranch(""))
}

func TestValidateBranchRejectsLeadingSlash(t *testing.T) {
	assert.Error(t, ValidateBranch("/main"))
}

func TestValidateBranchRejectsTrailingSlash(t *testing.T) {
	assert.Error(t, ValidateBranch("main/"))
}

func TestValidateBranchRejectsControlCharacters(t *testing.T) {
	assert.Error(t, ValidateBranch("main\x00branch"))
}
