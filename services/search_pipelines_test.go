package services

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func stageValue(t *testing.T, pipeline mongo.Pipeline, name string) interface{} {
	t.Helper()
	for _, stage := range pipeline {
		for _, elem := range stage {
			if elem.Key == name {
				return elem.Value
			}
		}
	}
	t.Fatalf("pipeline has no %s stage", name)
	return nil
}

func hasStage(pipeline mongo.Pipeline, name string) bool {
	for _, stage := range pipeline {
		for _, elem := range stage {
			if elem.Key == name {
				return true
			}
		}
	}
	return false
}

func intPtr(v int) *int { return &v }

func TestBuildVectorPipelineKNNOversampling(t *testing.T) {
	vector := []float32{0.1, 0.2}

	for _, limit := range []int{1, 10, 25} {
		pipeline := buildVectorPipeline("idx", "video_embedding", vector, SearchFilters{}, limit, false)

		stage := stageValue(t, pipeline, "$vectorSearch").(bson.M)
		if got := stage["numCandidates"]; got != limit*knnCandidateFactor {
			t.Errorf("limit %d: numCandidates = %v, want %d", limit, got, limit*knnCandidateFactor)
		}
		if got := stage["limit"]; got != limit {
			t.Errorf("limit %d: limit = %v", limit, got)
		}
		if _, ok := stage["exact"]; ok {
			t.Errorf("limit %d: KNN pipeline must not set exact", limit)
		}
	}
}

func TestBuildVectorPipelineExactMode(t *testing.T) {
	pipeline := buildVectorPipeline("idx", "text_embedding", []float32{0.5}, SearchFilters{}, 20, true)

	stage := stageValue(t, pipeline, "$vectorSearch").(bson.M)
	if stage["exact"] != true {
		t.Fatalf("exact = %v, want true", stage["exact"])
	}
	if _, ok := stage["numCandidates"]; ok {
		t.Fatal("exact pipeline must not set numCandidates")
	}
}

func TestBuildVectorPipelinePreFilter(t *testing.T) {
	f := SearchFilters{Season: intPtr(4), Episode: intPtr(7), Character: "Kusy"}
	pipeline := buildVectorPipeline("idx", "video_embedding", []float32{0.5}, f, 10, false)

	stage := stageValue(t, pipeline, "$vectorSearch").(bson.M)
	filter, ok := stage["filter"].(bson.M)
	if !ok {
		t.Fatal("missing KNN pre-filter")
	}
	conds, ok := filter["$and"].([]bson.M)
	if !ok || len(conds) != 3 {
		t.Fatalf("filter = %v, want $and with 3 conditions", filter)
	}
}

func TestBuildVectorPipelineNoFilter(t *testing.T) {
	pipeline := buildVectorPipeline("idx", "video_embedding", []float32{0.5}, SearchFilters{}, 10, false)

	stage := stageValue(t, pipeline, "$vectorSearch").(bson.M)
	if _, ok := stage["filter"]; ok {
		t.Fatal("empty filters must not produce a filter document")
	}
}

func TestBuildLexicalTextPipeline(t *testing.T) {
	pipeline := buildLexicalTextPipeline("idx", "kozy w oknie", SearchFilters{Season: intPtr(2)}, 20)

	search := stageValue(t, pipeline, "$search").(bson.M)
	if search["index"] != "idx" {
		t.Errorf("index = %v", search["index"])
	}

	compound := search["compound"].(bson.M)
	must := compound["must"].(bson.A)
	inner := must[0].(bson.M)["compound"].(bson.M)
	should := inner["should"].(bson.A)
	if len(should) != 2 {
		t.Fatalf("should clause count = %d, want 2", len(should))
	}

	// Transcript text is boosted over the episode title.
	textClause := should[0].(bson.M)["text"].(bson.M)
	if textClause["path"] != "text" {
		t.Errorf("first should path = %v, want text", textClause["path"])
	}
	if _, ok := textClause["score"]; !ok {
		t.Error("text clause is not boosted")
	}
	if _, ok := textClause["fuzzy"]; !ok {
		t.Error("text clause is not fuzzy")
	}

	filters := compound["filter"].([]bson.M)
	if len(filters) != 1 {
		t.Fatalf("filter count = %d, want 1", len(filters))
	}

	if got := stageValue(t, pipeline, "$limit"); got != 20 {
		t.Errorf("limit = %v, want 20", got)
	}
}

func TestBuildEmotionPipelineSort(t *testing.T) {
	pipeline := buildEmotionPipeline("idx", "happiness", "", SearchFilters{}, 5)

	sortStage := stageValue(t, pipeline, "$sort").(bson.D)
	if len(sortStage) != 2 {
		t.Fatalf("sort keys = %d, want 2", len(sortStage))
	}
	if sortStage[0].Key != "nested_sort_key" || sortStage[0].Value != -1 {
		t.Errorf("primary sort = %+v, want nested_sort_key descending", sortStage[0])
	}
	if sortStage[1].Key != "score" || sortStage[1].Value != -1 {
		t.Errorf("tie-break sort = %+v, want score descending", sortStage[1])
	}

	if got := stageValue(t, pipeline, "$limit"); got != 5 {
		t.Errorf("limit = %v, want 5", got)
	}
}

func TestBuildEmotionPipelineCharacterConstraint(t *testing.T) {
	pipeline := buildEmotionPipeline("idx", "happiness", "Kozioł", SearchFilters{}, 5)

	search := stageValue(t, pipeline, "$search").(bson.M)
	must := search["compound"].(bson.M)["must"].(bson.A)
	embedded := must[0].(bson.M)["embeddedDocument"].(bson.M)
	elemMust := embedded["operator"].(bson.M)["compound"].(bson.M)["must"].(bson.A)
	if len(elemMust) != 2 {
		t.Fatalf("element conditions = %d, want emotion label and character name", len(elemMust))
	}

	// The confidence used as the sort key comes from elements matching
	// both the label and the name.
	found := false
	for _, stage := range pipeline {
		for _, elem := range stage {
			if elem.Key != "$set" {
				continue
			}
			m, ok := elem.Value.(bson.M)
			if !ok {
				continue
			}
			key, ok := m["nested_sort_key"].(bson.M)
			if !ok {
				continue
			}
			found = true
			inner := key["$max"].(bson.M)["$map"].(bson.M)
			filter := inner["input"].(bson.M)["$filter"].(bson.M)
			cond := filter["cond"].(bson.M)
			if _, ok := cond["$and"]; !ok {
				t.Error("sort-key filter must combine label and name conditions")
			}
		}
	}
	if !found {
		t.Fatal("pipeline has no nested sort-key stage")
	}
}

func TestBuildObjectPipelineBounds(t *testing.T) {
	q := &ObjectQuery{ClassName: "person", MinCount: 2, MaxCount: 5}
	pipeline := buildObjectPipeline(q, SearchFilters{Season: intPtr(1)}, 20)

	match := stageValue(t, pipeline, "$match").(bson.M)
	if _, ok := match["detected_objects"]; !ok {
		t.Error("first $match misses the class presence condition")
	}
	if match["episode_metadata.season"] != 1 {
		t.Error("season filter not applied")
	}

	// Second $match carries the count bounds.
	var bounds bson.M
	for _, stage := range pipeline {
		for _, elem := range stage {
			if elem.Key == "$match" {
				if m, ok := elem.Value.(bson.M); ok {
					if b, ok := m["object_count"].(bson.M); ok {
						bounds = b
					}
				}
			}
		}
	}
	if bounds == nil {
		t.Fatal("pipeline has no count-bounds stage")
	}
	if bounds["$gte"] != 2 || bounds["$lte"] != 5 {
		t.Errorf("bounds = %v, want $gte 2 $lte 5", bounds)
	}
}

func TestBuildObjectPipelineUnbounded(t *testing.T) {
	q := &ObjectQuery{ClassName: "dog", MinCount: 3}
	pipeline := buildObjectPipeline(q, SearchFilters{}, 20)

	for _, stage := range pipeline {
		for _, elem := range stage {
			if elem.Key != "$match" {
				continue
			}
			if m, ok := elem.Value.(bson.M); ok {
				if b, ok := m["object_count"].(bson.M); ok {
					if _, hasLte := b["$lte"]; hasLte {
						t.Error("open-ended count query must not set an upper bound")
					}
					if b["$gte"] != 3 {
						t.Errorf("lower bound = %v, want 3", b["$gte"])
					}
				}
			}
		}
	}
}

func TestBuildFacetPipelineCap(t *testing.T) {
	pipeline := buildFacetPipeline("character_appearances", "name", facetBucketCap)

	if got := stageValue(t, pipeline, "$unwind"); got != "$character_appearances" {
		t.Errorf("unwind = %v", got)
	}
	if got := stageValue(t, pipeline, "$limit"); got != 1000 {
		t.Errorf("bucket cap = %v, want 1000", got)
	}
	group := stageValue(t, pipeline, "$group").(bson.M)
	if group["_id"] != "$character_appearances.name" {
		t.Errorf("group key = %v", group["_id"])
	}

	if hasStage(pipeline, "$sort") {
		t.Error("facet pipeline must not sort; display order is the formatter's job")
	}
}
