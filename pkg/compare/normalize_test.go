package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeNameFoldsConventions(t *testing.T) {
	assert.Equal(t, NormalizeName("userName"), NormalizeName("user_name"))
	assert.Equal(t, NormalizeName("user_name"), NormalizeName("username"))
	assert.Equal(t, NormalizeName("User-Name"), NormalizeName("username"))
	assert.NotEqual(t, NormalizeName("username"), NormalizeName("userlastname"))
}

func TestNormalizeType(t *testing.T) {
	assert.True(t, TypesEquivalent("int", "int32"))
	assert.True(t, TypesEquivalent("int", "INTEGER"))
	assert.True(t, TypesEquivalent("string", "varchar"))
	assert.True(t, TypesEquivalent("string", "varchar(255)"))
	assert.True(t, TypesEquivalent("bool", "boolean"))
	assert.False(t, TypesEquivalent("int", "string"))
	assert.False(t, TypesEquivalent("float", "int"))
}

func TestIsNumericWidening(t *testing.T) {
	assert.True(t, IsNumericWidening("int", "bigint"))
	assert.True(t, IsNumericWidening("float", "double"))
	assert.True(t, IsNumericWidening("int", "float"))
	assert.False(t, IsNumericWidening("float", "int"), "narrowing is not widening")
	assert.False(t, IsNumericWidening("bigint", "int"))
	assert.False(t, IsNumericWidening("string", "text"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, NormalizePath("/users/{id}"), NormalizePath("/users/:id"))
	assert.Equal(t, NormalizePath("/users/{id}"), NormalizePath("/users/<int:id>"))
	assert.Equal(t, NormalizePath("/users/"), NormalizePath("/users"))
	assert.NotEqual(t, NormalizePath("/users/{id}"), NormalizePath("/orders/{id}"))
}
