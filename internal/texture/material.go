/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package texture

import "wallnewspaper/internal/layout"

// Material binds a main texture with tiling and offset, mirroring the
// "_MainTex" slot of the host renderer.
type Material struct {
	Name    string
	main    *Texture
	scale   layout.Vec2
	offset  layout.Vec2
	changes int
}

// NewMaterial returns a material with identity tiling.
func NewMaterial(name string) *Material {
	return &Material{Name: name, scale: layout.Vec2{U: 1, V: 1}}
}

func (m *Material) SetMainTexture(t *Texture) { m.main = t }

func (m *Material) MainTexture() *Texture { return m.main }

func (m *Material) SetTextureScale(s layout.Vec2) {
	m.scale = s
	m.changes++
}

func (m *Material) SetTextureOffset(o layout.Vec2) {
	m.offset = o
	m.changes++
}

func (m *Material) TextureScale() layout.Vec2 { return m.scale }

func (m *Material) TextureOffset() layout.Vec2 { return m.offset }

// Changes counts scale/offset writes; useful to assert recompute behaviour.
func (m *Material) Changes() int { return m.changes }
