package harvest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"mediaharvest/internal/models"
)

type nopHarvester struct{}

func (nopHarvester) Harvest(ctx context.Context, query Query) ([]RawItem, error) {
	return nil, nil
}

func nopFactory() Harvester { return nopHarvester{} }

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(Descriptor{
		Name:     "daily-chronicle",
		Kind:     models.KindArticle,
		Platform: "Daily Chronicle",
		BaseURL:  "https://chronicle.example.com",
		New:      nopFactory,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	desc, err := reg.Lookup("daily-chronicle")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if desc.Platform != "Daily Chronicle" {
		t.Fatalf("platform = %q", desc.Platform)
	}
	if desc.New == nil {
		t.Fatalf("expected factory on descriptor")
	}
}

func TestRegistryUnknownSource(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("ghost")
	if err == nil {
		t.Fatalf("expected error for unknown source")
	}
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if KindOf(err) != KindUnknownSource {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindUnknownSource)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	desc := Descriptor{Name: "metro-times", Kind: models.KindArticle, New: nopFactory}
	if err := reg.Register(desc); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(desc); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRegistryRejectsMissingFactory(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Descriptor{Name: "x", Kind: models.KindArticle}); err == nil {
		t.Fatalf("expected registration without factory to fail")
	}
}

func TestRegistryRejectsBlankName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Descriptor{Name: "   ", Kind: models.KindArticle, New: nopFactory}); err == nil {
		t.Fatalf("expected registration with blank name to fail")
	}
}

func TestRegistryNamesPreserveOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := reg.Register(Descriptor{Name: name, Kind: models.KindArticle, New: nopFactory}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	want := []string{"charlie", "alpha", "bravo"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
}

func TestRegistryByKind(t *testing.T) {
	reg := NewRegistry()
	entries := []Descriptor{
		{Name: "paper-one", Kind: models.KindArticle, New: nopFactory},
		{Name: "tube-one", Kind: models.KindVideo, New: nopFactory},
		{Name: "paper-two", Kind: models.KindArticle, New: nopFactory},
	}
	for _, desc := range entries {
		if err := reg.Register(desc); err != nil {
			t.Fatalf("register %s: %v", desc.Name, err)
		}
	}
	articles := reg.ByKind(models.KindArticle)
	if len(articles) != 2 || articles[0].Name != "paper-one" || articles[1].Name != "paper-two" {
		t.Fatalf("articles = %+v", articles)
	}
	videos := reg.ByKind(models.KindVideo)
	if len(videos) != 1 || videos[0].Name != "tube-one" {
		t.Fatalf("videos = %+v", videos)
	}
}

func TestRawItemFingerprint(t *testing.T) {
	article := ArticleItem(RawArticle{URL: "HTTPS://Example.com/a"})
	if got := article.Fingerprint(); got != "https://example.com/a" {
		t.Fatalf("article fingerprint = %q", got)
	}
	video := VideoItem(RawVideo{VideoID: "vid-7"})
	if got := video.Fingerprint(); got != "vid-7" {
		t.Fatalf("video fingerprint = %q", got)
	}
	if article.Kind() != models.KindArticle {
		t.Fatalf("article kind = %q", article.Kind())
	}
	if video.Kind() != models.KindVideo {
		t.Fatalf("video kind = %q", video.Kind())
	}
}
