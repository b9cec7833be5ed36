package discovery

import (
	"reflect"
	"testing"
)

func TestParseClassDecl(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantName    string
		wantParents []string
		wantOK      bool
	}{
		{"simple", "class TestUserViews(TestCase):", "TestUserViews", []string{"TestCase"}, true},
		{"no parents", "class TestHelpers:", "TestHelpers", nil, true},
		{"qualified parent", "class UserViews(unittest.TestCase):", "UserViews", []string{"unittest.TestCase"}, true},
		{"multiple parents", "class V(Mixin, TestCase):", "V", []string{"Mixin", "TestCase"}, true},
		{"metaclass kwarg skipped", "class V(Base, metaclass=ABCMeta):", "V", []string{"Base"}, true},
		{"not a class", "def test_x(self):", "", nil, false},
		{"classless prefix", "classify = 1", "", nil, false},
		{"empty parens", "class V():", "V", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, parents, ok := parseClassDecl(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if !reflect.DeepEqual(parents, tt.wantParents) {
				t.Errorf("parents = %v, want %v", parents, tt.wantParents)
			}
		})
	}
}

func TestParseCaseDecl(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"def test_login(self):", "test_login", true},
		{"async def test_fetch(self):", "test_fetch", true},
		{"def helper():", "helper", true},
		{"defrost()", "", false},
		{"def (self):", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCaseDecl(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseCaseDecl(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestScanTracksEnclosingGroup(t *testing.T) {
	src := `import unittest

class TestUserViews(TestCase):
    def setUp(self):
        pass

    def test_login(self):
        pass

    async def test_logout(self):
        pass

def module_helper():
    pass

class Helpers:
    def test_not_in_group(self):
        pass

class OrderTests(unittest.TestCase):
    def test_create(self):
        pass
`
	sc := newScanner("test", nil)
	groups := sc.scan(src)

	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Name != "TestUserViews" {
		t.Errorf("first group = %s", groups[0].Name)
	}
	if len(groups[0].Cases) != 2 || groups[0].Cases[0].Name != "test_login" || groups[0].Cases[1].Name != "test_logout" {
		t.Errorf("TestUserViews cases = %+v", groups[0].Cases)
	}
	if groups[1].Name != "OrderTests" || len(groups[1].Cases) != 1 {
		t.Errorf("OrderTests = %+v", groups[1])
	}
}

func TestScanCasePrefixFilter(t *testing.T) {
	src := `class TestThings(TestCase):
    def test_included(self):
        pass

    def check_excluded(self):
        pass
`
	sc := newScanner("test", nil)
	groups := sc.scan(src)
	if len(groups) != 1 || len(groups[0].Cases) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Cases[0].Name != "test_included" {
		t.Errorf("case = %s", groups[0].Cases[0].Name)
	}
}

func TestGroupQualifies(t *testing.T) {
	sc := newScanner("test", []string{"GraphQLTestCase"})
	tests := []struct {
		name    string
		parents []string
		want    bool
	}{
		{"TestAnything", nil, true},
		{"UserViews", []string{"TestCase"}, true},
		{"UserViews", []string{"django.test.TestCase"}, true},
		{"UserViews", []string{"GraphQLTestCase"}, true},
		{"UserViews", []string{"object"}, false},
		{"Helpers", nil, false},
	}
	for _, tt := range tests {
		if got := sc.groupQualifies(tt.name, tt.parents); got != tt.want {
			t.Errorf("groupQualifies(%s, %v) = %v, want %v", tt.name, tt.parents, got, tt.want)
		}
	}
}

func TestHasTestMarker(t *testing.T) {
	sc := newScanner("test", nil)
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"test class", "class TestX(TestCase):\n    pass\n", true},
		{"base only", "class X(unittest.TestCase):\n    pass\n", true},
		{"plain module", "def main():\n    pass\n", false},
		{"plain class", "class Widget:\n    pass\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sc.hasTestMarker(tt.content); got != tt.want {
				t.Errorf("hasTestMarker = %v, want %v", got, tt.want)
			}
		})
	}
}
