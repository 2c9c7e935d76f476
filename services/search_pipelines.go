package services

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// knnCandidateFactor is the oversampling multiplier for approximate
// KNN search: a query for K results considers 10*K candidates before
// final ranking. Fixed design constant, not user-configurable.
const knnCandidateFactor = 10

// Default result limits. KNN-based modes default lower because each
// hit costs an oversampled candidate pool.
const (
	DefaultLimit    = 20
	DefaultKNNLimit = 10
)

// SearchFilters are the uniform optional filters shared by the search
// modes. Nil/empty fields mean no constraint.
type SearchFilters struct {
	Season    *int
	Episode   *int
	Character string
}

// NestedSort describes a sort over a field of a matched nested array
// element, with the backend relevance score retained as tie-break.
type NestedSort struct {
	Path      string   // nested array path, e.g. "character_appearances"
	Field     string   // element field carrying the sort key
	Order     int      // -1 descending, 1 ascending
	TieFilter []bson.M // element conditions selecting which siblings count
}

// searchFilterClauses renders season/episode/character filters as
// Atlas Search compound filter clauses.
func searchFilterClauses(f SearchFilters) []bson.M {
	var clauses []bson.M
	if f.Season != nil {
		clauses = append(clauses, bson.M{"equals": bson.M{"path": "episode_metadata.season", "value": *f.Season}})
	}
	if f.Episode != nil {
		clauses = append(clauses, bson.M{"equals": bson.M{"path": "episode_metadata.episode_number", "value": *f.Episode}})
	}
	if f.Character != "" {
		clauses = append(clauses, bson.M{"embeddedDocument": bson.M{
			"path":     "character_appearances",
			"operator": bson.M{"equals": bson.M{"path": "character_appearances.name", "value": f.Character}},
		}})
	}
	return clauses
}

// vectorSearchFilter renders the filters as the MQL pre-filter of a
// $vectorSearch stage. Returns nil when no filter applies.
func vectorSearchFilter(f SearchFilters) bson.M {
	var conds []bson.M
	if f.Season != nil {
		conds = append(conds, bson.M{"episode_metadata.season": bson.M{"$eq": *f.Season}})
	}
	if f.Episode != nil {
		conds = append(conds, bson.M{"episode_metadata.episode_number": bson.M{"$eq": *f.Episode}})
	}
	if f.Character != "" {
		conds = append(conds, bson.M{"character_appearances.name": bson.M{"$eq": f.Character}})
	}
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return bson.M{"$and": conds}
	}
}

// matchFilter renders the filters as plain $match conditions.
func matchFilter(f SearchFilters) bson.M {
	m := bson.M{}
	if f.Season != nil {
		m["episode_metadata.season"] = *f.Season
	}
	if f.Episode != nil {
		m["episode_metadata.episode_number"] = *f.Episode
	}
	if f.Character != "" {
		m["character_appearances.name"] = f.Character
	}
	return m
}

// searchStage assembles a $search stage with total-count tracking and
// projects the relevance score onto each hit. Callers append their
// own $limit so that sort stages can run over the full match set.
func searchStage(index string, operator bson.M, filters []bson.M) mongo.Pipeline {
	compound := bson.M{"must": bson.A{operator}}
	if len(filters) > 0 {
		compound["filter"] = filters
	}

	return mongo.Pipeline{
		{{Key: "$search", Value: bson.M{
			"index":    index,
			"compound": compound,
			"count":    bson.M{"type": "total"},
		}}},
		{{Key: "$set", Value: bson.M{
			"score":        bson.M{"$meta": "searchScore"},
			"search_total": "$$SEARCH_META.count.total",
		}}},
	}
}

func limitStage(limit int) bson.D {
	return bson.D{{Key: "$limit", Value: limit}}
}

// buildLexicalTextPipeline is the fuzzy multi-field match over
// transcript text and episode title, boosted on text.
func buildLexicalTextPipeline(index, query string, f SearchFilters, limit int) mongo.Pipeline {
	operator := bson.M{"compound": bson.M{
		"should": bson.A{
			bson.M{"text": bson.M{
				"query": query,
				"path":  "text",
				"fuzzy": bson.M{"maxEdits": 2},
				"score": bson.M{"boost": bson.M{"value": 2.0}},
			}},
			bson.M{"text": bson.M{
				"query": query,
				"path":  "episode_metadata.title",
				"fuzzy": bson.M{"maxEdits": 2},
			}},
		},
		"minimumShouldMatch": 1,
	}}
	return append(searchStage(index, operator, searchFilterClauses(f)), limitStage(limit))
}

// buildVectorPipeline is similarity scoring against a stored vector
// field. exact=true runs exact nearest neighbour (no candidate pool);
// exact=false is approximate KNN with the fixed oversampling factor.
func buildVectorPipeline(index, path string, vector []float32, f SearchFilters, limit int, exact bool) mongo.Pipeline {
	stage := bson.M{
		"index":       index,
		"path":        path,
		"queryVector": vector,
		"limit":       limit,
	}
	if exact {
		stage["exact"] = true
	} else {
		stage["numCandidates"] = limit * knnCandidateFactor
	}
	if filter := vectorSearchFilter(f); filter != nil {
		stage["filter"] = filter
	}

	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: stage}},
		{{Key: "$set", Value: bson.M{"score": bson.M{"$meta": "vectorSearchScore"}}}},
	}
}

// buildEmotionPipeline matches frames containing a character
// appearance with the given emotion label (and, when set, character
// name), sorted by the matched element's emotion confidence
// descending with the relevance score as tie-break.
func buildEmotionPipeline(index, emotion, character string, f SearchFilters, limit int) mongo.Pipeline {
	elemMust := bson.A{
		bson.M{"equals": bson.M{"path": "character_appearances.emotion.label", "value": emotion}},
	}
	if character != "" {
		elemMust = append(elemMust, bson.M{"equals": bson.M{"path": "character_appearances.name", "value": character}})
	}

	operator := bson.M{"embeddedDocument": bson.M{
		"path":     "character_appearances",
		"operator": bson.M{"compound": bson.M{"must": elemMust}},
	}}

	sort := NestedSort{
		Path:  "character_appearances",
		Field: "emotion.confidence",
		Order: -1,
		TieFilter: []bson.M{
			{"$eq": bson.A{"$$elem.emotion.label", emotion}},
		},
	}
	if character != "" {
		// The sort key comes from elements the query matched, not
		// from an unrelated character in the same frame.
		sort.TieFilter = append(sort.TieFilter, bson.M{"$eq": bson.A{"$$elem.name", character}})
	}

	pipeline := searchStage(index, operator, searchFilterClauses(f))
	pipeline = append(pipeline, nestedSortStages(sort)...)
	pipeline = append(pipeline, limitStage(limit))
	return pipeline
}

// nestedSortStages renders a NestedSort as aggregation stages: pull
// the max sort-key among matching nested elements onto the document,
// then sort by it with score as tie-break.
func nestedSortStages(s NestedSort) mongo.Pipeline {
	cond := bson.M{"$and": s.TieFilter}
	if len(s.TieFilter) == 1 {
		cond = s.TieFilter[0]
	}

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"nested_sort_key": bson.M{"$max": bson.M{"$map": bson.M{
				"input": bson.M{"$filter": bson.M{
					"input": "$" + s.Path,
					"as":    "elem",
					"cond":  cond,
				}},
				"as": "elem",
				"in": "$$elem." + s.Field,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "nested_sort_key", Value: s.Order},
			{Key: "score", Value: -1},
		}}},
		{{Key: "$unset", Value: "nested_sort_key"}},
	}
}

// buildCharacterPipeline matches frames containing an appearance of
// the named character.
func buildCharacterPipeline(index, character string, f SearchFilters, limit int) mongo.Pipeline {
	operator := bson.M{"embeddedDocument": bson.M{
		"path":     "character_appearances",
		"operator": bson.M{"equals": bson.M{"path": "character_appearances.name", "value": character}},
	}}
	return append(searchStage(index, operator, searchFilterClauses(f)), limitStage(limit))
}

// buildObjectPipeline matches frames by detected-object class with an
// occurrence-count constraint. Count bounds cannot be expressed in a
// search operator, so this runs as a plain filtered aggregation.
func buildObjectPipeline(q *ObjectQuery, f SearchFilters, limit int) mongo.Pipeline {
	match := matchFilter(f)
	match["detected_objects"] = bson.M{"$elemMatch": bson.M{"class_name": q.ClassName}}

	countExpr := bson.M{"$size": bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$detected_objects", bson.A{}}},
		"as":    "obj",
		"cond":  bson.M{"$eq": bson.A{"$$obj.class_name", q.ClassName}},
	}}}

	countBounds := bson.M{"$gte": q.MinCount}
	if q.MaxCount > 0 {
		countBounds["$lte"] = q.MaxCount
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$set", Value: bson.M{"object_count": countExpr}}},
		{{Key: "$match", Value: bson.M{"object_count": countBounds}}},
		{{Key: "$unset", Value: "object_count"}},
		{{Key: "$limit", Value: limit}},
	}
}

// buildEpisodeNamePipeline is the fuzzy title match for episode-name
// search.
func buildEpisodeNamePipeline(index, query string, season *int, limit int) mongo.Pipeline {
	operator := bson.M{"text": bson.M{
		"query": query,
		"path":  "title",
		"fuzzy": bson.M{"maxEdits": 2},
	}}
	return append(searchStage(index, operator, searchFilterClauses(SearchFilters{Season: season})), limitStage(limit))
}

// buildFacetPipeline is the nested terms aggregation behind
// ListCharacters/ListObjects: unwind the array path, bucket on the
// element's name field, cap at maxBuckets. Bucket order is whatever
// the backend produced; display sorting is the formatter's job.
func buildFacetPipeline(path, field string, maxBuckets int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$unwind", Value: "$" + path}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$" + path + "." + field,
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$limit", Value: maxBuckets}},
	}
}
